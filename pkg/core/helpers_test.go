package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adahealth/munkipipe/pkg/forge"
	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/adahealth/munkipipe/pkg/notify"
	"github.com/adahealth/munkipipe/pkg/storage"
	"github.com/adahealth/munkipipe/pkg/storage/localfs"
	"github.com/adahealth/munkipipe/pkg/vcs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// memStore is a local store over an in-memory file system, with controllable timestamps
type memStore struct {
	storage.Store
	fs afero.Fs
}

func newMemStore() *memStore {
	fs := afero.NewMemMapFs()
	return &memStore{Store: localfs.New(fs), fs: fs}
}

func (m *memStore) write(t testing.TB, key string, content []byte) {
	require.NoError(t, m.Put(context.Background(), key, bytes.NewReader(content), storage.OverWrite))
}

func (m *memStore) age(t testing.TB, key string, age time.Duration) {
	ts := time.Now().Add(-age)
	require.NoError(t, m.fs.Chtimes(key, ts, ts))
}

func (m *memStore) writePkgInfo(t testing.TB, name, version string, artifacts ...string) string {
	info := model.PkgInfo{Name: name, Version: version, Catalogs: []string{"testing"}}
	if len(artifacts) > 0 {
		info.InstallerItemLocation = artifacts[0]
	}
	if len(artifacts) > 1 {
		info.UninstallerItemLocation = artifacts[1]
	}
	b, err := info.Encode()
	require.NoError(t, err)
	key := model.PkgsInfoPath(fmt.Sprintf("apps/%s-%s.plist", name, version))
	m.write(t, key, b)
	return key
}

func (m *memStore) keys(t testing.TB) []string {
	keys, err := m.Keys(context.Background(), "")
	require.NoError(t, err)
	sort.Strings(keys)
	return keys
}

// countingStore records write operations and fails on demand
type countingStore struct {
	storage.Store
	mx      sync.Mutex
	puts    []string
	deletes []string
	failOn  map[string]error
}

func newCountingStore(inner storage.Store) *countingStore {
	return &countingStore{Store: inner, failOn: make(map[string]error)}
}

func (c *countingStore) Put(ctx context.Context, key string, r io.Reader, exclusive bool) error {
	c.mx.Lock()
	c.puts = append(c.puts, key)
	err := c.failOn[key]
	c.mx.Unlock()
	if err != nil {
		return err
	}
	return c.Store.Put(ctx, key, r, exclusive)
}

func (c *countingStore) Delete(ctx context.Context, key string) error {
	c.mx.Lock()
	c.deletes = append(c.deletes, key)
	err := c.failOn[key]
	c.mx.Unlock()
	if err != nil {
		return err
	}
	return c.Store.Delete(ctx, key)
}

func (c *countingStore) ops() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.puts) + len(c.deletes)
}

// fakeRunner plays recipe outcomes
type fakeRunner struct {
	reports map[string]model.Report
	errs    map[string]error
	ran     []string
	repos   []string
	// onRun simulates the working tree changes made by a recipe
	onRun func(model.Recipe)
}

func (f *fakeRunner) AddRepos(_ context.Context, repos []string) error {
	f.repos = append(f.repos, repos...)
	return nil
}

func (f *fakeRunner) Run(_ context.Context, recipe model.Recipe) (model.Report, error) {
	f.ran = append(f.ran, recipe.Name)
	if err := f.errs[recipe.Name]; err != nil {
		return model.Report{}, err
	}
	if f.onRun != nil {
		f.onRun(recipe)
	}
	return f.reports[recipe.Name], nil
}

func importReport(rows ...model.ImportRow) model.Report {
	return model.Report{
		SummaryResults: map[string]model.SummaryResult{
			model.MunkiImporterSummary: {DataRows: rows},
		},
	}
}

// fakeRepo simulates a git working tree with a trunk, branches and a remote.
// Uncommitted changes are tracked per path, and follow checkouts like git does.
type fakeRepo struct {
	trunk       string
	current     string
	trunkHas    map[string]bool
	branches    map[string]bool
	pushed      map[string]bool
	commits     map[string][]string
	dirty       map[string]bool
	staged      map[string]bool
	failPush    map[string]error
	failCurrent error
	calls       []string
}

func newFakeRepo(trunk string) *fakeRepo {
	return &fakeRepo{
		trunk:    trunk,
		current:  trunk,
		trunkHas: make(map[string]bool),
		branches: make(map[string]bool),
		pushed:   make(map[string]bool),
		commits:  make(map[string][]string),
		dirty:    make(map[string]bool),
		staged:   make(map[string]bool),
		failPush: make(map[string]error),
	}
}

func (f *fakeRepo) call(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// change simulates files written in the working tree
func (f *fakeRepo) change(paths ...string) {
	for _, pth := range paths {
		f.dirty[pth] = true
	}
}

func (f *fakeRepo) isDirty() bool {
	return len(f.dirty) > 0
}

func (f *fakeRepo) CurrentBranch(context.Context) (string, error) {
	return f.current, f.failCurrent
}

func (f *fakeRepo) Checkout(_ context.Context, branch string, create bool) error {
	f.call("checkout %s %t", branch, create)
	switch {
	case create && f.branches[branch]:
		return fmt.Errorf("branch %s already exists", branch)
	case create:
		f.branches[branch] = true
	case branch != f.trunk && !f.branches[branch]:
		return fmt.Errorf("pathspec %s did not match", branch)
	}
	f.current = branch
	return nil
}

func (f *fakeRepo) Fetch(context.Context) error {
	f.call("fetch")
	return nil
}

func (f *fakeRepo) BranchExists(_ context.Context, branch string) (bool, error) {
	return f.branches[branch] || f.pushed[branch], nil
}

func (f *fakeRepo) ExistsOn(_ context.Context, ref, path string) (bool, error) {
	if ref != f.trunk {
		return false, nil
	}
	return f.trunkHas[path], nil
}

func (f *fakeRepo) HasChanges(_ context.Context, paths ...string) (bool, error) {
	if len(paths) == 0 {
		return f.isDirty(), nil
	}
	for _, pth := range paths {
		if f.dirty[pth] {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) Add(_ context.Context, paths ...string) error {
	f.call("add %s", strings.Join(paths, " "))
	for _, pth := range paths {
		if f.dirty[pth] {
			f.staged[pth] = true
		}
	}
	return nil
}

func (f *fakeRepo) Commit(_ context.Context, message string) error {
	if len(f.staged) == 0 {
		return fmt.Errorf("nothing to commit")
	}
	f.call("commit %s", message)
	var paths []string
	for pth := range f.staged {
		paths = append(paths, pth)
		delete(f.dirty, pth)
	}
	sort.Strings(paths)
	f.commits[f.current] = paths
	f.staged = make(map[string]bool)
	return nil
}

func (f *fakeRepo) Push(_ context.Context, branch string) error {
	if err := f.failPush[branch]; err != nil {
		return err
	}
	f.call("push %s", branch)
	f.pushed[branch] = true
	return nil
}

func (f *fakeRepo) DeleteBranch(_ context.Context, branch string) error {
	if branch == f.current {
		return fmt.Errorf("cannot delete checked out branch %s", branch)
	}
	f.call("delete %s", branch)
	delete(f.branches, branch)
	delete(f.commits, branch)
	return nil
}

func (f *fakeRepo) Discard(context.Context) error {
	f.dirty = make(map[string]bool)
	f.staged = make(map[string]bool)
	return nil
}

func (f *fakeRepo) ChangedFiles(_ context.Context, _, head string) ([]vcs.Change, error) {
	var changes []vcs.Change
	for _, pth := range f.commits[head] {
		changes = append(changes, vcs.Change{Status: "A", Path: pth})
	}
	return changes, nil
}

func (f *fakeRepo) committed() []string {
	var res []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "commit ") {
			res = append(res, strings.TrimPrefix(c, "commit "))
		}
	}
	return res
}

// fakeDater gives artifact dates as recorded by version control
type fakeDater struct {
	dates map[string]time.Time
	errs  map[string]error
}

func (f *fakeDater) LastChanged(_ context.Context, key string) (time.Time, error) {
	if err := f.errs[key]; err != nil {
		return time.Time{}, err
	}
	return f.dates[key], nil
}

// fakeHost records review requests
type fakeHost struct {
	open     map[string]forge.Review
	requests []forge.ReviewRequest
	fail     error
}

func newFakeHost() *fakeHost {
	return &fakeHost{open: make(map[string]forge.Review)}
}

func (f *fakeHost) FindOpenReview(_ context.Context, branch string) (*forge.Review, error) {
	if review, ok := f.open[branch]; ok {
		return &review, nil
	}
	return nil, nil
}

func (f *fakeHost) OpenReview(_ context.Context, req forge.ReviewRequest) (forge.Review, error) {
	if f.fail != nil {
		return forge.Review{}, f.fail
	}
	f.requests = append(f.requests, req)
	review := forge.Review{Number: len(f.requests), URL: fmt.Sprintf("https://github.com/ada/munki/pull/%d", len(f.requests))}
	f.open[req.Branch] = review
	return review, nil
}

// captureNotifier records notifications
type captureNotifier struct {
	runs   []model.RunReport
	alerts []notify.SyncAlert
}

func (c *captureNotifier) NotifyRun(_ context.Context, report model.RunReport) {
	c.runs = append(c.runs, report)
}

func (c *captureNotifier) NotifySync(_ context.Context, alert notify.SyncAlert) {
	c.alerts = append(c.alerts, alert)
}
