package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/embedder-harness/bridge"
	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/gpu"
	"github.com/Swind/embedder-harness/isolate"
)

const defaultNamespace = "harness"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts runner metrics, isolate phase changes, bridge
// messages, surface frames and vsync ticks to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec

	isolatePhaseTotal   *prom.CounterVec
	bridgeMessagesTotal *prom.CounterVec
	framesTotal         *prom.CounterVec
	vsyncTotal          prom.Counter
}

var (
	_ core.Metrics     = (*MetricsExporter)(nil)
	_ isolate.Observer = (*MetricsExporter)(nil)
	_ bridge.Observer  = (*MetricsExporter)(nil)
)

// NewMetricsExporter creates and registers the collectors. Collectors that
// are already registered on reg are reused.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"runner", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"runner"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"runner", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current queue depth.",
	}, []string{"runner"})
	phaseVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "isolate_phase_transitions_total",
		Help:      "Isolate phase transitions by target phase.",
	}, []string{"phase", "kind"})
	messagesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "bridge_messages_total",
		Help:      "Messages received through native bridges.",
	}, []string{"bridge"})
	framesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "surface_frames_total",
		Help:      "Frames submitted to rendering surfaces by outcome.",
	}, []string{"surface", "result"})
	vsync := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "vsync_ticks_total",
		Help:      "Simulated vsync ticks.",
	})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if phaseVec, err = registerCollector(reg, phaseVec); err != nil {
		return nil, err
	}
	if messagesVec, err = registerCollector(reg, messagesVec); err != nil {
		return nil, err
	}
	if framesVec, err = registerCollector(reg, framesVec); err != nil {
		return nil, err
	}
	if vsync, err = registerCollector(reg, vsync); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		isolatePhaseTotal:   phaseVec,
		bridgeMessagesTotal: messagesVec,
		framesTotal:         framesVec,
		vsyncTotal:          vsync,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(runnerName string, priority core.TaskPriority, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(runnerName, "unknown"), priority.String()).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(runnerName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(runnerName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(runnerName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(runnerName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(runnerName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(runnerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// OnPhaseChange counts isolate transitions.
func (m *MetricsExporter) OnPhaseChange(iso *isolate.Isolate, from, to isolate.Phase) {
	if m == nil {
		return
	}
	kind := "background"
	if iso.IsRoot() {
		kind = "root"
	}
	m.isolatePhaseTotal.WithLabelValues(to.String(), kind).Inc()
}

// OnMessage counts bridge messages.
func (m *MetricsExporter) OnMessage(bridgeName string, seq int, payload string) {
	if m == nil {
		return
	}
	m.bridgeMessagesTotal.WithLabelValues(normalizeLabel(bridgeName, "unknown")).Inc()
}

// RecordVsync counts one vsync tick.
func (m *MetricsExporter) RecordVsync() {
	if m == nil {
		return
	}
	m.vsyncTotal.Inc()
}

// FrameObserver returns an observer counting frames on the named surface.
func (m *MetricsExporter) FrameObserver(surface string) gpu.FrameObserver {
	return frameCounter{m: m, surface: normalizeLabel(surface, "unknown")}
}

type frameCounter struct {
	m       *MetricsExporter
	surface string
}

func (c frameCounter) OnFrame(r gpu.FrameResult) {
	if c.m == nil {
		return
	}
	result := "dropped"
	if r.Presented {
		result = "presented"
	}
	c.m.framesTotal.WithLabelValues(c.surface, result).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
