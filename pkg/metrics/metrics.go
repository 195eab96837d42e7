// Package metrics collects munkipipe counters with prometheus.
//
// munkipipe is a short-lived CLI: metrics are gathered in a private registry
// and optionally pushed to a Pushgateway when a command completes.
package metrics

import (
	"context"
	"net/http"

	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	// MB stands for mega bytes (1024 kilo bytes)
	MB = units.MiB

	// DefaultNamespace prefixes all metric names
	DefaultNamespace = "munkipipe"
)

// Metrics exposed by munkipipe commands
type Metrics struct {
	registry *prometheus.Registry

	Recipes      *prometheus.CounterVec
	Imports      prometheus.Counter
	Publications *prometheus.CounterVec
	GitErrors    prometheus.Counter

	SyncOperations *prometheus.CounterVec
	SyncBytes      prometheus.Counter

	SweepArtifacts *prometheus.CounterVec
	SweepBytes     prometheus.Counter

	LastSuccess *prometheus.GaugeVec
}

// New metrics, registered in a private registry
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Recipes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "recipes_total",
			Help:      "Recipes run, by result.",
		}, []string{"result"}),
		Imports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "imports_total",
			Help:      "Items imported by recipe runs.",
		}),
		Publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "imports_total",
			Help:      "Imports handled by the publisher, by status.",
		}, []string{"status"}),
		GitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "git_errors_total",
			Help:      "Imports that could not be pushed.",
		}),
		SyncOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "operations_total",
			Help:      "Sync operations applied to the object store, by kind and result.",
		}, []string{"op", "result"}),
		SyncBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "uploaded_bytes_total",
			Help:      "Bytes uploaded to the object store.",
		}),
		SweepArtifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "artifacts_total",
			Help:      "Artifacts examined by the retention sweep, by outcome.",
		}, []string{"outcome"}),
		SweepBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "deleted_bytes_total",
			Help:      "Bytes reclaimed by the retention sweep.",
		}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful completion, by command.",
		}, []string{"command"}),
	}
	m.registry.MustRegister(
		m.Recipes, m.Imports, m.Publications, m.GitErrors,
		m.SyncOperations, m.SyncBytes,
		m.SweepArtifacts, m.SweepBytes,
		m.LastSuccess,
	)
	return m
}

// Registry exposes the gatherer holding all munkipipe metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Succeeded records the completion time of a command
func (m *Metrics) Succeeded(command string) {
	m.LastSuccess.WithLabelValues(command).SetToCurrentTime()
}

// PushOption customizes a push to the gateway
type PushOption func(*push.Pusher) *push.Pusher

// WithGrouping adds a grouping label to the pushed metrics
func WithGrouping(name, value string) PushOption {
	return func(p *push.Pusher) *push.Pusher {
		return p.Grouping(name, value)
	}
}

// WithHTTPClient sets the HTTP client used to reach the gateway
func WithHTTPClient(client *http.Client) PushOption {
	return func(p *push.Pusher) *push.Pusher {
		return p.Client(client)
	}
}

// Push all metrics to a Pushgateway, replacing the metrics previously pushed for this job
func (m *Metrics) Push(ctx context.Context, gateway, job string, opts ...PushOption) error {
	p := push.New(gateway, job).Gatherer(m.registry)
	for _, apply := range opts {
		p = apply(p)
	}
	return p.PushContext(ctx)
}
