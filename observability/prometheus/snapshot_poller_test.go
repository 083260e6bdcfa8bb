package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/runners"
)

type runnerStub struct {
	stats core.RunnerStats
}

func (s runnerStub) Stats() core.RunnerStats { return s.stats }

type poolStub struct {
	stats core.PoolStats
}

func (s poolStub) Stats() core.PoolStats { return s.stats }

func TestSnapshotPoller_CollectsRunnerAndPoolStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("", reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddRunner("ui", runnerStub{stats: core.RunnerStats{
		Type:     "sequenced",
		Pending:  3,
		Running:  1,
		Executed: 5,
		Rejected: 2,
		Closed:   true,
	}})
	poller.AddPool("isolate-pool", poolStub{stats: core.PoolStats{
		Queued:  4,
		Active:  2,
		Delayed: 1,
		Workers: 8,
		Running: true,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		pending := testutil.ToFloat64(poller.runner.pending.WithLabelValues(standaloneHost, "ui", "sequenced"))
		active := testutil.ToFloat64(poller.pool.active.WithLabelValues("isolate-pool"))
		return pending == 3 && active == 2
	})

	if got := testutil.ToFloat64(poller.runner.closed.WithLabelValues(standaloneHost, "ui", "sequenced")); got != 1 {
		t.Fatalf("runner closed gauge: got = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.runner.executed.WithLabelValues(standaloneHost, "ui", "sequenced")); got != 5 {
		t.Fatalf("runner executed gauge: got = %v, want 5", got)
	}
	if got := testutil.ToFloat64(poller.pool.running.WithLabelValues("isolate-pool")); got != 1 {
		t.Fatalf("pool running gauge: got = %v, want 1", got)
	}
}

// TestSnapshotPoller_CollectsThreadHostRunners
// Given: a thread host with dedicated UI and raster threads
// When: the host is added to a poller
// Then: each owned runner is exported under its own name
func TestSnapshotPoller_CollectsThreadHostRunners(t *testing.T) {
	// Arrange
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("", reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}
	host := runners.NewThreadHost("shell", runners.UIThread|runners.RasterThread, nil)

	// Act
	poller.AddHost("shell", host)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()
	if err := host.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// Assert
	assertEventually(t, 2*time.Second, func() bool {
		closed := 0.0
		for _, stats := range host.Stats() {
			closed += testutil.ToFloat64(poller.runner.closed.WithLabelValues("shell", stats.Name, stats.Type))
		}
		return closed == float64(host.Threads())
	})
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("", reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()

	// restartable after Stop
	poller.Start(ctx)
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
