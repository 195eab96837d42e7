package core

import (
	"time"

	"github.com/adahealth/munkipipe/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultSweepGrace is the age below which unreferenced artifacts are kept
const DefaultSweepGrace = 30 * 24 * time.Hour

type (
	// SweepOption modifies the behavior of the retention sweep
	SweepOption func(*sweepOptions)

	sweepOptions struct {
		force     bool
		dryRun    bool
		grace     time.Duration
		indexPath string
		dater     ArtifactDater
		now       func() time.Time
		l         *zap.Logger
		metrics   *metrics.Metrics
	}
)

// WithSweepForce ignores a lock left by another sweep
func WithSweepForce(enabled bool) SweepOption {
	return func(o *sweepOptions) {
		o.force = enabled
	}
}

// WithSweepDryRun reports what would be deleted, without deleting anything
func WithSweepDryRun(enabled bool) SweepOption {
	return func(o *sweepOptions) {
		o.dryRun = enabled
	}
}

// WithSweepGrace sets the minimum age of deleted artifacts
func WithSweepGrace(grace time.Duration) SweepOption {
	return func(o *sweepOptions) {
		if grace >= 0 {
			o.grace = grace
		}
	}
}

// WithSweepIndexPath keeps the index of referenced artifacts on disk. The index is held in memory by default.
func WithSweepIndexPath(pth string) SweepOption {
	return func(o *sweepOptions) {
		o.indexPath = pth
	}
}

// WithSweepDater dates artifacts by their last change in the history of the repository,
// rather than by the modification time reported by the store.
//
// A fresh checkout sets the modification time of every file to the time of the checkout.
func WithSweepDater(dater ArtifactDater) SweepOption {
	return func(o *sweepOptions) {
		o.dater = dater
	}
}

// WithSweepClock sets the clock the grace period is measured against
func WithSweepClock(now func() time.Time) SweepOption {
	return func(o *sweepOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSweepLogger sets the logger
func WithSweepLogger(zlg *zap.Logger) SweepOption {
	return func(o *sweepOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

// WithSweepMetrics sets the metrics collector
func WithSweepMetrics(m *metrics.Metrics) SweepOption {
	return func(o *sweepOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

func defaultSweepOptions(opts []SweepOption) *sweepOptions {
	o := &sweepOptions{
		grace: DefaultSweepGrace,
		now:   time.Now,
		l:     zap.NewNop(),
	}
	for _, apply := range opts {
		apply(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New("")
	}
	return o
}
