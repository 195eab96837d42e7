package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/adahealth/munkipipe/pkg/forge"
	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/docker/go-units"
	"go.uber.org/zap"
)

var (
	// ErrPublishPush is returned when a change branch could not be committed or pushed
	ErrPublishPush = errors.New("could not push change branch")

	// ErrPublishReview is returned when no review could be requested for a pushed branch
	ErrPublishReview = errors.New("could not request review")

	// ErrPublishCheck is returned when the state of trunk or of the change branch could not be verified
	ErrPublishCheck = errors.New("could not check publication state")

	// ErrPublishPaths is returned for an import without any file known to the repository
	ErrPublishPaths = errors.New("import has no repository path")

	// ErrNotOnTrunk is returned when the working tree is not a checkout of trunk
	ErrNotOnTrunk = errors.New("working tree is not on trunk")
)

// Publisher submits every new import for review on its own change branch.
//
// Publishing is idempotent: an import already merged on trunk, or whose branch
// is already under review, is left untouched.
type Publisher struct {
	repo Repository
	host ReviewHost
	*publishOptions
}

// changeSet is what goes on one change branch
type changeSet struct {
	branch  string
	title   string
	paths   []string
	summary string
}

// NewPublisher builds a publisher over a working tree and a review host
func NewPublisher(repo Repository, host ReviewHost, opts ...PublishOption) *Publisher {
	return &Publisher{
		repo:           repo,
		host:           host,
		publishOptions: defaultPublishOptions(opts),
	}
}

// Trunk is the branch reviews are requested against
func (p *Publisher) Trunk() string {
	return p.trunk
}

// Reset drops all uncommitted changes and returns to trunk
func (p *Publisher) Reset(ctx context.Context) error {
	if err := p.repo.Discard(ctx); err != nil {
		return err
	}
	return p.repo.Checkout(ctx, p.trunk, false)
}

// EnsureTrunk checks out trunk when another branch is checked out
func (p *Publisher) EnsureTrunk(ctx context.Context) error {
	current, err := p.repo.CurrentBranch(ctx)
	if err != nil {
		return ErrPublishCheck.Wrap(err)
	}
	if current == p.trunk {
		return nil
	}
	p.l.Info("switching working tree to trunk", zap.String("branch", current), zap.String("trunk", p.trunk))
	if err = p.repo.Checkout(ctx, p.trunk, false); err != nil {
		return ErrNotOnTrunk.Wrap(err)
	}
	return nil
}

// RequireTrunk fails unless the working tree is a checkout of trunk
func RequireTrunk(ctx context.Context, repo Repository, trunk string) error {
	current, err := repo.CurrentBranch(ctx)
	if err != nil {
		return ErrNotOnTrunk.Wrap(err)
	}
	if current != trunk {
		return ErrNotOnTrunk.Wrapf("on %q, expected %q", current, trunk)
	}
	return nil
}

// Publish an import.
//
// The working tree is expected to be on trunk, holding the uncommitted changes of the recipe
// run that produced the import. Only the files of this import are committed on its branch:
// the changes of other imports of the same run stay in the working tree for them.
// On return, the working tree is back on trunk.
func (p *Publisher) Publish(ctx context.Context, imp model.Import) (model.Publication, error) {
	pub := model.Publication{Import: imp, Branch: imp.Branch()}
	logger := p.l.With(zap.Stringer("import", imp), zap.String("branch", pub.Branch))

	paths := imp.Paths()
	if len(paths) == 0 {
		return pub, ErrPublishPaths.Wrapf("%v", imp)
	}

	if imp.PkgInfoPath != "" {
		merged, err := p.repo.ExistsOn(ctx, p.trunk, imp.PkgInfoPath)
		if err != nil {
			return pub, ErrPublishCheck.Wrap(err)
		}
		if merged {
			logger.Info("import already on trunk", zap.String("pkginfo", imp.PkgInfoPath))
			pub.Status = model.AlreadyOnTrunk
			p.count(pub.Status)
			return pub, nil
		}
	}

	return p.publish(ctx, pub, changeSet{
		branch: pub.Branch,
		title:  imp.Title(),
		paths:  paths,
		summary: fmt.Sprintf("Imported by AutoPkg recipe `%s`.\n\n| Name | Version | Catalogs |\n|---|---|---|\n| %s | %s | %s |\n",
			imp.Recipe.Name, imp.Name, imp.Version, strings.Join(imp.Catalogs, ", ")),
	}, logger)
}

// PublishSweep submits the artifacts removed from the working tree by a sweep for review.
//
// The deletions reach the object store with the next sync, once the review is merged.
func (p *Publisher) PublishSweep(ctx context.Context, desc SweepDescriptor) (model.Publication, error) {
	pub := model.Publication{Branch: "sweep-" + desc.Now.UTC().Format("20060102")}
	logger := p.l.With(zap.String("branch", pub.Branch))

	if len(desc.DeletedKeys) == 0 {
		pub.Status = model.NoChanges
		p.count(pub.Status)
		return pub, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Removes %d installer artifacts (%s) referenced by no pkginfo and unchanged for %s.\n",
		len(desc.DeletedKeys), units.HumanSize(float64(desc.DeletedBytes)), desc.Grace)

	return p.publish(ctx, pub, changeSet{
		branch:  pub.Branch,
		title:   fmt.Sprintf("Remove %d unreferenced artifacts", len(desc.DeletedKeys)),
		paths:   desc.DeletedKeys,
		summary: b.String(),
	}, logger)
}

func (p *Publisher) publish(ctx context.Context, pub model.Publication, change changeSet, logger *zap.Logger) (model.Publication, error) {
	exists, err := p.repo.BranchExists(ctx, change.branch)
	if err != nil {
		return pub, ErrPublishCheck.Wrap(err)
	}
	if exists {
		// the branch carries these changes already
		return p.ensureReview(ctx, pub, change, logger)
	}

	changed, err := p.repo.HasChanges(ctx, change.paths...)
	if err != nil {
		return pub, ErrPublishCheck.Wrap(err)
	}
	if !changed {
		logger.Info("nothing to commit", zap.Strings("paths", change.paths))
		pub.Status = model.NoChanges
		p.count(pub.Status)
		return pub, nil
	}

	if err = p.push(ctx, change, logger); err != nil {
		return pub, err
	}
	return p.ensureReview(ctx, pub, change, logger)
}

func (p *Publisher) push(ctx context.Context, change changeSet, logger *zap.Logger) (err error) {
	if err = p.repo.Checkout(ctx, change.branch, true); err != nil {
		return ErrPublishPush.Wrap(err)
	}
	defer func() {
		if erc := p.repo.Checkout(ctx, p.trunk, false); erc != nil {
			if err == nil {
				err = ErrPublishPush.Wrap(erc)
			}
			return
		}
		if err == nil {
			return
		}
		// a branch left behind would pass for a published one on the next run
		if erd := p.repo.DeleteBranch(ctx, change.branch); erd != nil {
			logger.Warn("could not delete unpublished branch", zap.Error(erd))
		}
	}()

	if err = p.repo.Add(ctx, change.paths...); err != nil {
		return ErrPublishPush.Wrap(err)
	}
	if err = p.repo.Commit(ctx, change.title); err != nil {
		return ErrPublishPush.Wrap(err)
	}
	if err = p.repo.Push(ctx, change.branch); err != nil {
		logger.Error("could not push change branch", zap.Error(err))
		p.metrics.GitErrors.Inc()
		return ErrPublishPush.Wrap(err)
	}
	logger.Info("change branch pushed")
	return nil
}

func (p *Publisher) ensureReview(ctx context.Context, pub model.Publication, change changeSet, logger *zap.Logger) (model.Publication, error) {
	open, err := p.host.FindOpenReview(ctx, change.branch)
	if err != nil {
		return pub, ErrPublishReview.Wrap(err)
	}
	if open != nil {
		logger.Info("change branch already under review", zap.String("review", open.URL))
		pub.ReviewURL = open.URL
		pub.Status = model.UnderReview
		p.count(pub.Status)
		return pub, nil
	}

	review, err := p.host.OpenReview(ctx, forge.ReviewRequest{
		Branch: change.branch,
		Base:   p.trunk,
		Title:  change.title,
		Body:   p.reviewBody(ctx, change, logger),
	})
	if err != nil {
		logger.Error("could not open review request: the change branch is kept", zap.Error(err))
		return pub, ErrPublishReview.Wrap(err)
	}
	logger.Info("review requested", zap.String("review", review.URL))
	pub.ReviewURL = review.URL
	pub.Status = model.Published
	p.count(pub.Status)
	return pub, nil
}

func (p *Publisher) reviewBody(ctx context.Context, change changeSet, logger *zap.Logger) string {
	var b strings.Builder
	b.WriteString(change.summary)

	changes, err := p.repo.ChangedFiles(ctx, p.trunk, change.branch)
	if err != nil {
		logger.Warn("could not list changed files", zap.Error(err))
		return b.String()
	}
	if len(changes) > 0 {
		b.WriteString("\nChanged files:\n\n")
		for _, c := range changes {
			fmt.Fprintf(&b, "- `%s` %s\n", c.Status, c.Path)
		}
	}
	return b.String()
}

func (p *Publisher) count(status model.PublishStatus) {
	p.metrics.Publications.WithLabelValues(string(status)).Inc()
}
