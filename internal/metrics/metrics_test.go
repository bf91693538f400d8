package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Records(t *testing.T) {
	r := New()

	r.RecordRPC("uci", "get", 0, 0.01)
	r.RecordRPC("uci", "get", 0, 0.02)
	r.RecordCommit("network")
	r.RecordFormSave("system", "invalid", 3)
	r.RecordAPIRequest("GET", "/api/ui/menu", 200, 0.001)

	assert.Equal(t, 2.0, value(t, r.RPCCalls.WithLabelValues("uci", "get", "0")))
	assert.Equal(t, 1.0, value(t, r.Commits.WithLabelValues("network")))
	assert.Equal(t, 3.0, value(t, r.ValidationFailures.WithLabelValues("system")))
	assert.Equal(t, 1.0, value(t, r.APIRequests.WithLabelValues("GET", "/api/ui/menu", "200")))
}

func TestRegistry_Handler(t *testing.T) {
	r := New()
	r.RecordCommit("firewall")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `luci_uci_commits_total{package="firewall"} 1`))
}

func TestCollector_Collect(t *testing.T) {
	r := New()
	c := NewCollector(r, time.Minute)
	c.Sample = func(context.Context) (SystemSample, error) {
		return SystemSample{Uptime: 90 * time.Second, Load: [3]float64{0.5, 0.25, 0.1}, MemTotal: 1024}, nil
	}
	c.EventStats = func() (uint64, uint64) { return 10, 2 }

	c.Collect(context.Background())

	assert.Equal(t, 90.0, value(t, r.Uptime))
	assert.Equal(t, 0.25, value(t, r.Load.WithLabelValues("5m")))
	assert.Equal(t, 1024.0, value(t, r.Memory.WithLabelValues("total")))
	assert.Equal(t, 2.0, value(t, r.EventsDropped))
}

func TestGet_Singleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}
