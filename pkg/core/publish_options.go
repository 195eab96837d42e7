package core

import (
	"github.com/adahealth/munkipipe/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultTrunk is the branch reviews are requested against
const DefaultTrunk = "main"

type (
	// PublishOption modifies the behavior of the publisher
	PublishOption func(*publishOptions)

	publishOptions struct {
		trunk   string
		l       *zap.Logger
		metrics *metrics.Metrics
	}
)

// WithPublishTrunk sets the branch reviews are requested against
func WithPublishTrunk(trunk string) PublishOption {
	return func(o *publishOptions) {
		if trunk != "" {
			o.trunk = trunk
		}
	}
}

// WithPublishLogger sets the logger
func WithPublishLogger(zlg *zap.Logger) PublishOption {
	return func(o *publishOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

// WithPublishMetrics sets the metrics collector
func WithPublishMetrics(m *metrics.Metrics) PublishOption {
	return func(o *publishOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

func defaultPublishOptions(opts []PublishOption) *publishOptions {
	o := &publishOptions{
		trunk: DefaultTrunk,
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
