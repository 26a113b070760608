package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/realty-mesh/internal/metrics"
	"github.com/fastygo/realty-mesh/internal/upstream"
)

func healthyServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		time.Sleep(delay)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeAllIsolatesFailures(t *testing.T) {
	const delay = 200 * time.Millisecond
	d := newTestDispatcher(t,
		upstream.Endpoint{Name: "auth", BaseURL: healthyServer(t, delay).URL, Timeout: time.Second},
		upstream.Endpoint{Name: "user", BaseURL: healthyServer(t, delay).URL, Timeout: time.Second},
		upstream.Endpoint{Name: "property", BaseURL: healthyServer(t, delay).URL, Timeout: time.Second},
		upstream.Endpoint{Name: "notification", BaseURL: closedURL(t), Timeout: time.Second},
	)
	agg := NewAggregator(d, "", nil)

	start := time.Now()
	snapshot := agg.ProbeAll(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, Snapshot{"auth": true, "user": true, "property": true, "notification": false}, snapshot)
	assert.False(t, snapshot.Healthy())
	// sequential probing would take at least 3*delay
	assert.Less(t, elapsed, 2*delay+delay/2)
}

func TestProbeAllBoundedByTimeout(t *testing.T) {
	d := newTestDispatcher(t,
		upstream.Endpoint{Name: "auth", BaseURL: healthyServer(t, 0).URL, Timeout: time.Second},
		upstream.Endpoint{Name: "search", BaseURL: slowServer(t, 5*time.Second).URL, Timeout: 100 * time.Millisecond},
	)
	agg := NewAggregator(d, "/health", nil)

	start := time.Now()
	snapshot := agg.ProbeAll(context.Background())

	assert.Equal(t, Snapshot{"auth": true, "search": false}, snapshot)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbeSingleService(t *testing.T) {
	d := newTestDispatcher(t, upstream.Endpoint{Name: "auth", BaseURL: healthyServer(t, 0).URL})
	agg := NewAggregator(d, "", nil)

	assert.True(t, agg.Probe(context.Background(), "auth"))
	assert.False(t, agg.Probe(context.Background(), "billing"))
	assert.True(t, agg.Has("auth"))
}

func TestMonitorRefresh(t *testing.T) {
	d := newTestDispatcher(t,
		upstream.Endpoint{Name: "auth", BaseURL: healthyServer(t, 0).URL},
		upstream.Endpoint{Name: "user", BaseURL: closedURL(t)},
	)
	mon, err := NewMonitor(NewAggregator(d, "", nil), time.Hour, metrics.New(), nil)
	require.NoError(t, err)

	before := mon.Status()
	assert.Equal(t, Snapshot{"auth": false, "user": false}, before.Services)
	assert.True(t, before.LastCheck.IsZero())

	status := mon.Refresh(context.Background())
	assert.Equal(t, Snapshot{"auth": true, "user": false}, status.Services)
	assert.False(t, mon.IsHealthy())
	assert.False(t, mon.Status().LastCheck.IsZero())

	// callers get a copy
	status.Services["user"] = true
	assert.False(t, mon.Status().Services["user"])
}

func TestMonitorStartStop(t *testing.T) {
	d := newTestDispatcher(t, upstream.Endpoint{Name: "auth", BaseURL: healthyServer(t, 0).URL})
	mon, err := NewMonitor(NewAggregator(d, "", nil), time.Hour, nil, nil)
	require.NoError(t, err)

	mon.Start()
	require.Eventually(t, mon.IsHealthy, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	mon.Stop(ctx)
}

func TestMonitorStopWaitsForFirstRound(t *testing.T) {
	d := newTestDispatcher(t, upstream.Endpoint{Name: "search", BaseURL: slowServer(t, 5*time.Second).URL, Timeout: 10 * time.Second})
	mon, err := NewMonitor(NewAggregator(d, "", nil), time.Hour, metrics.New(), nil)
	require.NoError(t, err)

	mon.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	mon.Stop(ctx)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.NoError(t, ctx.Err())
	status := mon.Status()
	assert.False(t, status.LastCheck.IsZero())
	assert.Equal(t, Snapshot{"search": false}, status.Services)
}
