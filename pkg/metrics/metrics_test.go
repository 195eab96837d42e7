package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New("")
	m.Recipes.WithLabelValues("ok").Inc()
	m.Recipes.WithLabelValues("ok").Inc()
	m.Recipes.WithLabelValues("failed").Inc()
	m.SyncBytes.Add(3 * MB)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Recipes.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Recipes.WithLabelValues("failed")))
	assert.Equal(t, float64(3*MB), testutil.ToFloat64(m.SyncBytes))

	m.Succeeded("sync")
	assert.Greater(t, testutil.ToFloat64(m.LastSuccess.WithLabelValues("sync")), float64(0))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "munkipipe_run_recipes_total")
	assert.Contains(t, names, "munkipipe_sync_uploaded_bytes_total")
}

func TestPush(t *testing.T) {
	var (
		path string
		body []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := New("")
	m.Imports.Inc()
	require.NoError(t, m.Push(context.Background(), server.URL, "munkipipe_run",
		WithGrouping("instance", "ci"),
		WithHTTPClient(server.Client()),
	))
	assert.Equal(t, "/metrics/job/munkipipe_run/instance/ci", path)
	assert.NotEmpty(t, body)
}

func TestPushFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	require.Error(t, New("").Push(context.Background(), server.URL, "munkipipe_sync"))
}
