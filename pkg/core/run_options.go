package core

import (
	"github.com/adahealth/munkipipe/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type (
	// RunOption modifies the behavior of a recipe run
	RunOption func(*runOptions)

	runOptions struct {
		runID       string
		parentRepos []string
		repoRoot    string
		publisher   *Publisher
		notifier    RunNotifier
		l           *zap.Logger
		metrics     *metrics.Metrics
	}
)

// WithRunID sets the identifier of the run, reported in logs and notifications
func WithRunID(id string) RunOption {
	return func(o *runOptions) {
		if id != "" {
			o.runID = id
		}
	}
}

// WithRunParentRepos sets the recipe repositories added before running recipes
func WithRunParentRepos(repos []string) RunOption {
	return func(o *runOptions) {
		o.parentRepos = repos
	}
}

// WithRunRepoRoot sets the directory of the Munki repository, used to resolve the absolute
// paths reported by AutoPkg
func WithRunRepoRoot(root string) RunOption {
	return func(o *runOptions) {
		o.repoRoot = root
	}
}

// WithRunPublisher publishes imports for review. Without a publisher, imports are only reported.
func WithRunPublisher(p *Publisher) RunOption {
	return func(o *runOptions) {
		o.publisher = p
	}
}

// WithRunNotifier sets the notifier told about the outcome of the run
func WithRunNotifier(n RunNotifier) RunOption {
	return func(o *runOptions) {
		o.notifier = n
	}
}

// WithRunLogger sets the logger
func WithRunLogger(zlg *zap.Logger) RunOption {
	return func(o *runOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

// WithRunMetrics sets the metrics collector
func WithRunMetrics(m *metrics.Metrics) RunOption {
	return func(o *runOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

func defaultRunOptions(opts []RunOption) *runOptions {
	o := &runOptions{
		l: zap.NewNop(),
	}
	for _, apply := range opts {
		apply(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if o.metrics == nil {
		o.metrics = metrics.New("")
	}
	return o
}
