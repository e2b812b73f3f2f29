// Package metrics defines the prometheus metrics this core updates
// during operation. SPEC_FULL.md scopes out mounting an HTTP /metrics
// handler (no outer API surface), so Registry is constructed and
// updated but never wired to a listener here — a caller embedding this
// module into a larger service can mount promhttp.Handler() against
// the same prometheus.Registerer.
//
// Grounded on the chidi150c-coinbase example's metrics.go: one package
// var block of CounterVec/GaugeVec metrics registered in a
// constructor, named core_<noun>_total / core_<noun> by convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps the prometheus collectors this core emits.
type Registry struct {
	reg *prometheus.Registry

	signalsTotal    *prometheus.CounterVec
	ordersTotal     *prometheus.CounterVec
	exitReasons     *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	riskRejections  *prometheus.CounterVec
	equity          prometheus.Gauge
	drawdownPercent prometheus.Gauge
	regimeGauge     *prometheus.GaugeVec
	iterationErrors prometheus.Counter
}

// New constructs and registers every collector against a fresh
// prometheus.Registry (never the global DefaultRegisterer, so this
// module never has hidden side effects on an embedding process).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_signals_total",
			Help: "Strategy signals generated, labeled by strategy and side.",
		}, []string{"strategy", "side"}),
		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_orders_total",
			Help: "Orders placed, labeled by side and outcome.",
		}, []string{"side", "outcome"}),
		exitReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_exit_reasons_total",
			Help: "Position closes, labeled by exit strategy and side.",
		}, []string{"reason", "side"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_events_total",
			Help: "Event-sink records emitted, labeled by kind.",
		}, []string{"kind"}),
		riskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_risk_rejections_total",
			Help: "Signals rejected by the risk evaluator, labeled by reason.",
		}, []string{"reason"}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "core_equity",
			Help: "Current account equity.",
		}),
		drawdownPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "core_drawdown_percent",
			Help: "Current drawdown from peak balance, as a percent.",
		}),
		regimeGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "core_regime",
			Help: "Current market regime indicator (1 for the active regime, 0 otherwise).",
		}, []string{"regime"}),
		iterationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "core_iteration_errors_total",
			Help: "Trading-loop iterations that ended in an error.",
		}),
	}

	reg.MustRegister(
		r.signalsTotal, r.ordersTotal, r.exitReasons, r.eventsTotal,
		r.riskRejections, r.equity, r.drawdownPercent, r.regimeGauge, r.iterationErrors,
	)
	return r
}

// Registerer exposes the underlying prometheus.Registerer so an
// embedding process can mount promhttp.HandlerFor against it.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer exposes the underlying prometheus.Gatherer for the same
// reason.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) IncSignal(strategy, side string) { r.signalsTotal.WithLabelValues(strategy, side).Inc() }
func (r *Registry) IncOrder(side, outcome string)   { r.ordersTotal.WithLabelValues(side, outcome).Inc() }
func (r *Registry) IncExit(reason, side string)     { r.exitReasons.WithLabelValues(reason, side).Inc() }
func (r *Registry) IncRiskRejection(reason string)  { r.riskRejections.WithLabelValues(reason).Inc() }
func (r *Registry) IncIterationError()              { r.iterationErrors.Inc() }

// IncEvent satisfies eventsink.MetricsRecorder.
func (r *Registry) IncEvent(kind string) { r.eventsTotal.WithLabelValues(kind).Inc() }

func (r *Registry) SetEquity(v float64)          { r.equity.Set(v) }
func (r *Registry) SetDrawdownPercent(v float64) { r.drawdownPercent.Set(v) }

// SetRegime flips the active regime's gauge to 1 and every other known
// regime to 0, matching the teacher's labeled-series-flip convention
// for mutually exclusive states (its bot_model_mode metric).
func (r *Registry) SetRegime(active string, all []string) {
	for _, name := range all {
		v := 0.0
		if name == active {
			v = 1
		}
		r.regimeGauge.WithLabelValues(name).Set(v)
	}
}
