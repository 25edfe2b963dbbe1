package monitor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"executor-core/internal/account"
	"executor-core/internal/events"
	"executor-core/internal/order"
)

// Metrics exposes the engine's prometheus instruments.
type Metrics struct {
	Cycles           prometheus.Counter
	CycleErrors      prometheus.Counter
	Signals          prometheus.Counter
	Commands         *prometheus.CounterVec
	SafetyRejections *prometheus.CounterVec

	ActiveStrategies prometheus.Gauge
	QueueDepth       prometheus.Gauge
	EmergencyActive  prometheus.Gauge
	Equity           prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_cycles_total",
			Help: "Strategy evaluation cycles completed.",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_cycle_errors_total",
			Help: "Strategy cycles that ended in an error.",
		}),
		Signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_signals_total",
			Help: "Trade signals produced by rule evaluation.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_commands_total",
			Help: "Trade commands by lifecycle event.",
		}, []string{"event"}),
		SafetyRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_safety_rejections_total",
			Help: "Signals rejected by the safety gate, by reason.",
		}, []string{"reason"}),
		ActiveStrategies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_active_strategies",
			Help: "Monitors currently running or paused.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_queue_depth",
			Help: "Commands waiting in the priority queue.",
		}),
		EmergencyActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_emergency_active",
			Help: "1 while the emergency stop is active or cooling down.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_account_equity",
			Help: "Last reported account equity.",
		}),
	}
	reg.MustRegister(m.Cycles, m.CycleErrors, m.Signals, m.Commands,
		m.SafetyRejections, m.ActiveStrategies, m.QueueDepth, m.EmergencyActive, m.Equity)
	return m
}

// ActiveCounter reports the live strategy count.
type ActiveCounter interface {
	ActiveCount() int
}

// EmergencyStatus reports whether the kill switch is engaged.
type EmergencyStatus interface {
	Active() bool
}

// Collect keeps the metrics current from bus events and periodic gauge
// sampling until ctx is cancelled.
func (m *Metrics) Collect(ctx context.Context, bus *events.Bus, queue *order.Queue, reg ActiveCounter, gate EmergencyStatus) {
	stream, cancel := bus.SubscribeMany(256,
		events.EventSignal,
		events.EventCycle,
		events.EventCycleError,
		events.EventSafetyRejection,
		events.EventAccountUpdate,
		events.EventCommandEnqueued,
		events.EventCommandDispatched,
		events.EventCommandAcked,
		events.EventCommandFailed,
		events.EventCommandRejected,
		events.EventCommandDropped,
	)
	defer cancel()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(queue, reg, gate)
		case env, ok := <-stream:
			if !ok {
				return
			}
			m.observe(env)
		}
	}
}

func (m *Metrics) sample(queue *order.Queue, reg ActiveCounter, gate EmergencyStatus) {
	if queue != nil {
		m.QueueDepth.Set(float64(queue.Len()))
	}
	if reg != nil {
		m.ActiveStrategies.Set(float64(reg.ActiveCount()))
	}
	if gate != nil {
		if gate.Active() {
			m.EmergencyActive.Set(1)
		} else {
			m.EmergencyActive.Set(0)
		}
	}
}

func (m *Metrics) observe(env events.Envelope) {
	switch env.Topic {
	case events.EventCycle:
		m.Cycles.Inc()
	case events.EventSignal:
		m.Signals.Inc()
	case events.EventCycleError:
		m.CycleErrors.Inc()
	case events.EventSafetyRejection:
		reason := "unknown"
		if p, ok := env.Payload.(map[string]any); ok {
			if r, ok := p["reason"].(string); ok && r != "" {
				reason = r
			}
		}
		m.SafetyRejections.WithLabelValues(reason).Inc()
	case events.EventAccountUpdate:
		if snap, ok := env.Payload.(account.Snapshot); ok {
			m.Equity.Set(snap.Equity)
		}
	case events.EventCommandEnqueued:
		m.Commands.WithLabelValues("enqueued").Inc()
	case events.EventCommandDispatched:
		m.Commands.WithLabelValues("dispatched").Inc()
	case events.EventCommandAcked:
		m.Commands.WithLabelValues("acked").Inc()
	case events.EventCommandFailed:
		m.Commands.WithLabelValues("failed").Inc()
	case events.EventCommandRejected:
		m.Commands.WithLabelValues("rejected").Inc()
	case events.EventCommandDropped:
		m.Commands.WithLabelValues("dropped").Inc()
	}
}
