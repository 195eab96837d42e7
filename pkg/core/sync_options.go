package core

import (
	"github.com/adahealth/munkipipe/pkg/cdn"
	"github.com/adahealth/munkipipe/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultSyncParallel is the default number of concurrent transfers
const DefaultSyncParallel = 8

type (
	// SyncOption modifies the behavior of the synchronizer
	SyncOption func(*syncOptions)

	syncOptions struct {
		dryRun         bool
		maxParallel    int
		excludes       []string
		invalidator    cdn.Invalidator
		notifier       SyncNotifier
		alertOnFailure bool
		l              *zap.Logger
		metrics        *metrics.Metrics
	}
)

// WithSyncDryRun computes the plan without applying it
func WithSyncDryRun(enabled bool) SyncOption {
	return func(o *syncOptions) {
		o.dryRun = enabled
	}
}

// WithSyncParallel sets the number of concurrent transfers
func WithSyncParallel(parallel int) SyncOption {
	return func(o *syncOptions) {
		if parallel > 0 {
			o.maxParallel = parallel
		}
	}
}

// WithSyncExcludes adds glob patterns of keys never synced.
// Patterns are matched against the full key and against its base name.
func WithSyncExcludes(patterns ...string) SyncOption {
	return func(o *syncOptions) {
		o.excludes = append(o.excludes, patterns...)
	}
}

// WithSyncInvalidator invalidates changed keys on a CDN after the sync
func WithSyncInvalidator(invalidator cdn.Invalidator) SyncOption {
	return func(o *syncOptions) {
		o.invalidator = invalidator
	}
}

// WithSyncAlert notifies about partially applied syncs
func WithSyncAlert(notifier SyncNotifier, enabled bool) SyncOption {
	return func(o *syncOptions) {
		o.notifier = notifier
		o.alertOnFailure = enabled
	}
}

// WithSyncLogger sets the logger
func WithSyncLogger(zlg *zap.Logger) SyncOption {
	return func(o *syncOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

// WithSyncMetrics sets the metrics collector
func WithSyncMetrics(m *metrics.Metrics) SyncOption {
	return func(o *syncOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

func defaultSyncOptions(opts []SyncOption) *syncOptions {
	o := &syncOptions{
		maxParallel: DefaultSyncParallel,
		l:           zap.NewNop(),
	}
	for _, apply := range opts {
		apply(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New("")
	}
	return o
}
