package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firefoxImport() model.Import {
	return model.Import{
		Recipe:      model.RecipeFromName("Firefox.munki"),
		Name:        "Firefox",
		Version:     "120.0",
		Catalogs:    []string{"testing"},
		PkgInfoPath: "pkgsinfo/apps/Firefox-120.0.plist",
		PkgPath:     "pkgs/apps/Firefox-120.0.dmg",
	}
}

func firefoxArmImport() model.Import {
	return model.Import{
		Recipe:      model.RecipeFromName("Firefox.munki"),
		Name:        "Firefox-arm64",
		Version:     "120.0",
		Catalogs:    []string{"testing"},
		PkgInfoPath: "pkgsinfo/apps/Firefox-arm64-120.0.plist",
		PkgPath:     "pkgs/apps/Firefox-arm64-120.0.dmg",
		IconPath:    "icons/Firefox.png",
	}
}

func TestPublishNewImport(t *testing.T) {
	repo := newFakeRepo("main")
	imp := firefoxImport()
	repo.change(imp.Paths()...)
	host := newFakeHost()
	p := NewPublisher(repo, host)

	pub, err := p.Publish(context.Background(), imp)
	require.NoError(t, err)
	assert.Equal(t, model.Published, pub.Status)
	assert.Equal(t, "firefox-120.0", pub.Branch)
	assert.Equal(t, "https://github.com/ada/munki/pull/1", pub.ReviewURL)

	assert.Equal(t, "main", repo.current, "publisher returns to trunk")
	assert.Equal(t, []string{"Update Firefox to version 120.0"}, repo.committed())
	assert.True(t, repo.pushed["firefox-120.0"])

	require.Len(t, host.requests, 1)
	req := host.requests[0]
	assert.Equal(t, "main", req.Base)
	assert.Equal(t, "firefox-120.0", req.Branch)
	assert.Equal(t, "Update Firefox to version 120.0", req.Title)
	assert.Contains(t, req.Body, "Firefox.munki")
	assert.Contains(t, req.Body, "pkgsinfo/apps/Firefox-120.0.plist")
}

func TestPublishAlreadyOnTrunk(t *testing.T) {
	repo := newFakeRepo("main")
	imp := firefoxImport()
	repo.change(imp.Paths()...)
	repo.trunkHas[imp.PkgInfoPath] = true
	host := newFakeHost()

	pub, err := NewPublisher(repo, host).Publish(context.Background(), imp)
	require.NoError(t, err)
	assert.Equal(t, model.AlreadyOnTrunk, pub.Status)
	assert.Empty(t, repo.branches, "no branch is created")
	assert.Empty(t, host.requests, "no review is requested")
	assert.Empty(t, repo.committed())
}

func TestPublishIsIdempotent(t *testing.T) {
	repo := newFakeRepo("main")
	host := newFakeHost()
	p := NewPublisher(repo, host)
	imp := firefoxImport()

	repo.change(imp.Paths()...)
	first, err := p.Publish(context.Background(), imp)
	require.NoError(t, err)
	require.Equal(t, model.Published, first.Status)

	// the same recipe run again produces the same changes
	repo.change(imp.Paths()...)
	second, err := p.Publish(context.Background(), imp)
	require.NoError(t, err)
	assert.Equal(t, model.UnderReview, second.Status)
	assert.Equal(t, first.ReviewURL, second.ReviewURL)
	assert.Len(t, host.requests, 1)
	assert.Len(t, repo.committed(), 1)
}

func TestPublishReopensMissingReview(t *testing.T) {
	repo := newFakeRepo("main")
	repo.pushed["firefox-120.0"] = true
	imp := firefoxImport()
	repo.change(imp.Paths()...)
	host := newFakeHost()

	pub, err := NewPublisher(repo, host).Publish(context.Background(), imp)
	require.NoError(t, err)
	assert.Equal(t, model.Published, pub.Status)
	assert.Empty(t, repo.committed(), "the existing branch is not recreated")
	require.Len(t, host.requests, 1)
}

func TestPublishCommitsOnlyItsImport(t *testing.T) {
	repo := newFakeRepo("main")
	host := newFakeHost()
	p := NewPublisher(repo, host)

	// one recipe run imported two items and rebuilt the catalogs
	firefox, arm := firefoxImport(), firefoxArmImport()
	repo.change(firefox.Paths()...)
	repo.change(arm.Paths()...)
	repo.change("catalogs/all", "catalogs/testing", ".DS_Store")

	for _, imp := range []model.Import{firefox, arm} {
		pub, err := p.Publish(context.Background(), imp)
		require.NoError(t, err)
		require.Equal(t, model.Published, pub.Status)
	}

	assert.Equal(t, []string{
		"pkgs/apps/Firefox-120.0.dmg",
		"pkgsinfo/apps/Firefox-120.0.plist",
	}, repo.commits["firefox-120.0"])
	assert.Equal(t, []string{
		"icons/Firefox.png",
		"pkgs/apps/Firefox-arm64-120.0.dmg",
		"pkgsinfo/apps/Firefox-arm64-120.0.plist",
	}, repo.commits["firefox-arm64-120.0"])

	require.Len(t, host.requests, 2)
	assert.NotContains(t, host.requests[0].Body, "Firefox-arm64")
	assert.NotContains(t, host.requests[1].Body, "catalogs/all")

	for _, pth := range []string{"catalogs/all", "catalogs/testing", ".DS_Store"} {
		assert.Truef(t, repo.dirty[pth], "%s is left out of every branch", pth)
	}
}

func TestPublishWithoutPaths(t *testing.T) {
	repo := newFakeRepo("main")
	repo.change("catalogs/all")
	host := newFakeHost()
	imp := firefoxImport()
	imp.PkgInfoPath, imp.PkgPath = "", ""

	_, err := NewPublisher(repo, host).Publish(context.Background(), imp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPublishPaths))
	assert.Empty(t, repo.branches)
	assert.Empty(t, host.requests)
}

func TestPublishPushFailure(t *testing.T) {
	repo := newFakeRepo("main")
	imp := firefoxImport()
	repo.change(imp.Paths()...)
	repo.failPush["firefox-120.0"] = fmt.Errorf("remote rejected")
	host := newFakeHost()

	pub, err := NewPublisher(repo, host).Publish(context.Background(), imp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPublishPush))
	assert.Contains(t, err.Error(), "remote rejected")
	assert.Equal(t, "firefox-120.0", pub.Branch)
	assert.Equal(t, "main", repo.current)
	assert.Empty(t, host.requests)
	assert.False(t, repo.branches["firefox-120.0"], "the unpushed local branch is deleted")
	assert.Contains(t, repo.calls, "delete firefox-120.0")
}

func TestPublishRetriesAfterPushFailure(t *testing.T) {
	repo := newFakeRepo("main")
	imp := firefoxImport()
	repo.change(imp.Paths()...)
	repo.failPush["firefox-120.0"] = fmt.Errorf("connection reset")
	host := newFakeHost()
	p := NewPublisher(repo, host)

	_, err := p.Publish(context.Background(), imp)
	require.Error(t, err)

	// the next run rebuilds the same import
	delete(repo.failPush, "firefox-120.0")
	repo.change(imp.Paths()...)
	pub, err := p.Publish(context.Background(), imp)
	require.NoError(t, err)
	assert.Equal(t, model.Published, pub.Status, "the branch is pushed again, not taken for published")
	assert.True(t, repo.pushed["firefox-120.0"])
	assert.Len(t, repo.committed(), 2)
	require.Len(t, host.requests, 1)
}

func TestPublishReviewFailureKeepsBranch(t *testing.T) {
	repo := newFakeRepo("main")
	imp := firefoxImport()
	repo.change(imp.Paths()...)
	host := newFakeHost()
	host.fail = fmt.Errorf("validation failed")

	_, err := NewPublisher(repo, host).Publish(context.Background(), imp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPublishReview))
	assert.True(t, repo.pushed["firefox-120.0"], "the pushed branch is kept")
	assert.NotContains(t, repo.calls, "delete firefox-120.0")

	// the next run opens the missing review without pushing again
	host.fail = nil
	repo.change(imp.Paths()...)
	pub, err := NewPublisher(repo, host).Publish(context.Background(), imp)
	require.NoError(t, err)
	assert.Equal(t, model.Published, pub.Status)
	assert.Len(t, repo.committed(), 1)
}

func TestPublishNothingToCommit(t *testing.T) {
	repo := newFakeRepo("master")
	repo.change("catalogs/all")
	host := newFakeHost()

	pub, err := NewPublisher(repo, host, WithPublishTrunk("master")).Publish(context.Background(), firefoxImport())
	require.NoError(t, err)
	assert.Equal(t, model.NoChanges, pub.Status)
	assert.Empty(t, host.requests)
	assert.Empty(t, repo.branches)
}

func TestEnsureTrunk(t *testing.T) {
	repo := newFakeRepo("main")
	repo.branches["firefox-119.0"] = true
	repo.current = "firefox-119.0"
	p := NewPublisher(repo, newFakeHost())

	require.NoError(t, p.EnsureTrunk(context.Background()))
	assert.Equal(t, "main", repo.current)
	assert.Equal(t, []string{"checkout main false"}, repo.calls)

	// already on trunk
	repo.calls = nil
	require.NoError(t, p.EnsureTrunk(context.Background()))
	assert.Empty(t, repo.calls)

	repo.failCurrent = fmt.Errorf("not a git repository")
	err := p.EnsureTrunk(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPublishCheck))
}

func TestRequireTrunk(t *testing.T) {
	repo := newFakeRepo("main")
	require.NoError(t, RequireTrunk(context.Background(), repo, "main"))

	repo.branches["feature"] = true
	repo.current = "feature"
	err := RequireTrunk(context.Background(), repo, "main")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotOnTrunk))
	assert.Contains(t, err.Error(), `"feature"`)
	assert.Equal(t, "feature", repo.current, "the working tree is left alone")
}

func TestPublishSweep(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	desc := SweepDescriptor{
		Now:          now,
		Grace:        30 * 24 * time.Hour,
		Deleted:      2,
		DeletedBytes: 2048,
		DeletedKeys:  []string{"pkgs/apps/Firefox-118.0.dmg", "pkgs/apps/Zoom-4.0.pkg"},
	}
	repo := newFakeRepo("main")
	repo.change(desc.DeletedKeys...)
	repo.change("catalogs/all")
	host := newFakeHost()
	p := NewPublisher(repo, host)

	pub, err := p.PublishSweep(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, model.Published, pub.Status)
	assert.Equal(t, "sweep-20240301", pub.Branch)
	assert.Equal(t, desc.DeletedKeys, repo.commits["sweep-20240301"])
	assert.True(t, repo.dirty["catalogs/all"])

	require.Len(t, host.requests, 1)
	req := host.requests[0]
	assert.Equal(t, "Remove 2 unreferenced artifacts", req.Title)
	assert.Contains(t, req.Body, "2.048kB")
	assert.Contains(t, req.Body, "pkgs/apps/Zoom-4.0.pkg")

	// sweeping again the same day finds the review
	repo.change(desc.DeletedKeys...)
	pub, err = p.PublishSweep(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, model.UnderReview, pub.Status)
	assert.Len(t, host.requests, 1)
}

func TestPublishSweepNothingDeleted(t *testing.T) {
	repo := newFakeRepo("main")
	host := newFakeHost()

	pub, err := NewPublisher(repo, host).PublishSweep(context.Background(), SweepDescriptor{Now: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, model.NoChanges, pub.Status)
	assert.Empty(t, repo.calls)
	assert.Empty(t, host.requests)
}
