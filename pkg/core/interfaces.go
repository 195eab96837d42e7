package core

import (
	"context"
	"time"

	"github.com/adahealth/munkipipe/pkg/autopkg"
	"github.com/adahealth/munkipipe/pkg/forge"
	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/adahealth/munkipipe/pkg/notify"
	"github.com/adahealth/munkipipe/pkg/vcs"
)

// RecipeRunner runs AutoPkg recipes
type RecipeRunner interface {
	AddRepos(context.Context, []string) error
	Run(context.Context, model.Recipe) (model.Report, error)
}

// Repository is the git working tree of the Munki repository
type Repository interface {
	CurrentBranch(context.Context) (string, error)
	Checkout(context.Context, string, bool) error
	Fetch(context.Context) error
	BranchExists(context.Context, string) (bool, error)
	ExistsOn(context.Context, string, string) (bool, error)
	HasChanges(context.Context, ...string) (bool, error)
	Add(context.Context, ...string) error
	Commit(context.Context, string) error
	Push(context.Context, string) error
	DeleteBranch(context.Context, string) error
	Discard(context.Context) error
	ChangedFiles(context.Context, string, string) ([]vcs.Change, error)
}

// ArtifactDater tells when a file was last changed in the history of the repository.
// A zero time means the file has no history.
type ArtifactDater interface {
	LastChanged(context.Context, string) (time.Time, error)
}

// ReviewHost opens review requests for change branches
type ReviewHost interface {
	FindOpenReview(context.Context, string) (*forge.Review, error)
	OpenReview(context.Context, forge.ReviewRequest) (forge.Review, error)
}

// RunNotifier is told about the outcome of a recipe run
type RunNotifier interface {
	NotifyRun(context.Context, model.RunReport)
}

// SyncNotifier is told about partially applied syncs
type SyncNotifier interface {
	NotifySync(context.Context, notify.SyncAlert)
}

var (
	_ RecipeRunner  = &autopkg.Client{}
	_ Repository    = &vcs.Git{}
	_ ArtifactDater = &vcs.Git{}
	_ ReviewHost    = &forge.GitHub{}
	_ RunNotifier   = &notify.Notifier{}
	_ SyncNotifier  = &notify.Notifier{}
)
