package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/embedder-harness/core"
)

// standaloneHost labels runners added through AddRunner.
const standaloneHost = "standalone"

// RunnerSnapshotProvider provides current runner stats snapshots.
type RunnerSnapshotProvider interface {
	Stats() core.RunnerStats
}

// PoolSnapshotProvider provides current pool stats snapshots, such as the
// VM pool background isolates run on.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// HostSnapshotProvider reports every runner a thread host owns, such as
// runners.ThreadHost or a harness fixture.
type HostSnapshotProvider interface {
	Stats() []core.RunnerStats
}

type runnerGauges struct {
	pending, running, executed, rejected, closed *prom.GaugeVec
}

type poolGauges struct {
	queued, active, delayed, workers, running *prom.GaugeVec
}

// SnapshotPoller periodically copies Stats() snapshots of runners, thread
// hosts and pools into gauges.
type SnapshotPoller struct {
	interval time.Duration

	mu      sync.RWMutex
	runners map[string]RunnerSnapshotProvider
	hosts   map[string]HostSnapshotProvider
	pools   map[string]PoolSnapshotProvider

	runner runnerGauges
	pool   poolGauges

	stateMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

type gaugeSpec struct {
	target **prom.GaugeVec
	name   string
	help   string
}

func registerGauges(reg prom.Registerer, namespace string, labels []string, specs []gaugeSpec) error {
	for _, spec := range specs {
		vec := prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      spec.name,
			Help:      spec.help,
		}, labels)
		vec, err := registerCollector(reg, vec)
		if err != nil {
			return err
		}
		*spec.target = vec
	}
	return nil
}

// NewSnapshotPoller registers the snapshot gauges under namespace, "harness"
// when empty. Runner gauges are labelled host, runner and type; pool gauges
// by pool.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	p := &SnapshotPoller{
		interval: interval,
		runners:  make(map[string]RunnerSnapshotProvider),
		hosts:    make(map[string]HostSnapshotProvider),
		pools:    make(map[string]PoolSnapshotProvider),
	}
	err := registerGauges(reg, namespace, []string{"host", "runner", "type"}, []gaugeSpec{
		{&p.runner.pending, "runner_pending", "Pending tasks per runner."},
		{&p.runner.running, "runner_running", "Tasks currently executing per runner."},
		{&p.runner.executed, "runner_executed_total", "Executed task count snapshot."},
		{&p.runner.rejected, "runner_rejected_total", "Rejected task count snapshot."},
		{&p.runner.closed, "runner_closed", "Runner closed state (1=closed, 0=open)."},
	})
	if err != nil {
		return nil, err
	}
	err = registerGauges(reg, namespace, []string{"pool"}, []gaugeSpec{
		{&p.pool.queued, "pool_queued", "Queued tasks per pool."},
		{&p.pool.active, "pool_active", "Active tasks per pool."},
		{&p.pool.delayed, "pool_delayed", "Delayed tasks per pool."},
		{&p.pool.workers, "pool_workers", "Worker count per pool."},
		{&p.pool.running, "pool_running", "Pool running state (1=running, 0=stopped)."},
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddRunner adds or replaces a single runner by name.
func (p *SnapshotPoller) AddRunner(name string, provider RunnerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.runners[normalizeLabel(name, "runner")] = provider
	p.mu.Unlock()
}

// AddHost adds or replaces a thread host. Its runners are labelled by their
// own names and the host name.
func (p *SnapshotPoller) AddHost(name string, provider HostSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.hosts[normalizeLabel(name, "host")] = provider
	p.mu.Unlock()
}

// AddPool adds or replaces a pool by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.pools[normalizeLabel(name, "pool")] = provider
	p.mu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.cancel != nil {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go p.loop(pollCtx, done)
}

// Stop stops polling and waits for the loop to exit; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}
	p.stateMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.stateMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.collectOnce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, provider := range p.runners {
		p.runner.set(standaloneHost, name, provider.Stats())
	}
	for host, provider := range p.hosts {
		for _, stats := range provider.Stats() {
			p.runner.set(host, normalizeLabel(stats.Name, host), stats)
		}
	}
	for name, provider := range p.pools {
		p.pool.set(name, provider.Stats())
	}
}

func (g runnerGauges) set(host, name string, stats core.RunnerStats) {
	labels := []string{host, name, normalizeLabel(stats.Type, "unknown")}
	g.pending.WithLabelValues(labels...).Set(float64(stats.Pending))
	g.running.WithLabelValues(labels...).Set(float64(stats.Running))
	g.executed.WithLabelValues(labels...).Set(float64(stats.Executed))
	g.rejected.WithLabelValues(labels...).Set(float64(stats.Rejected))
	g.closed.WithLabelValues(labels...).Set(boolGauge(stats.Closed))
}

func (g poolGauges) set(name string, stats core.PoolStats) {
	g.queued.WithLabelValues(name).Set(float64(stats.Queued))
	g.active.WithLabelValues(name).Set(float64(stats.Active))
	g.delayed.WithLabelValues(name).Set(float64(stats.Delayed))
	g.workers.WithLabelValues(name).Set(float64(stats.Workers))
	g.running.WithLabelValues(name).Set(boolGauge(stats.Running))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
