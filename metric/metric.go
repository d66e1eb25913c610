// Package metric exposes Prometheus collectors for execution contexts, ports
// and connectors.
//
// All methods are safe on a nil *Registry, so code paths that run without
// metrics need no checks.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtc"

// Registry owns a Prometheus registry and the framework collectors.
type Registry struct {
	reg *prometheus.Registry

	ticks            *prometheus.CounterVec
	tickDuration     *prometheus.HistogramVec
	callbackFailures *prometheus.CounterVec
	participantState *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	portWrites       *prometheus.CounterVec
	overwrites       *prometheus.CounterVec
	components       prometheus.Gauge
}

// NewRegistry creates a registry with framework, Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ec",
			Name:      "ticks_total",
			Help:      "Number of completed execution context ticks.",
		}, []string{"ec"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ec",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one tick over all participants.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"ec"}),
		callbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ec",
			Name:      "callback_failures_total",
			Help:      "Callbacks that returned ERROR or FATAL or panicked.",
		}, []string{"ec", "component", "callback", "result"}),
		participantState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ec",
			Name:      "participant_state",
			Help:      "Per-context state of a participant (0 none, 1 inactive, 2 active, 3 error).",
		}, []string{"ec", "component"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ec",
			Name:      "transitions_total",
			Help:      "Applied per-context state transitions.",
		}, []string{"ec", "component", "to"}),
		portWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "port",
			Name:      "writes_total",
			Help:      "Values written on output ports.",
		}, []string{"component", "port"}),
		overwrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "overwrites_total",
			Help:      "Buffered values lost to overwrite-oldest on connectors.",
		}, []string{"component", "port", "connector"}),
		components: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "components",
			Help:      "Components currently owned by the manager.",
		}),
	}
	r.reg.MustRegister(
		r.ticks, r.tickDuration, r.callbackFailures, r.participantState,
		r.transitions, r.portWrites, r.overwrites, r.components,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveTick records one completed tick of ec.
func (r *Registry) ObserveTick(ec string, d time.Duration) {
	if r == nil {
		return
	}
	r.ticks.WithLabelValues(ec).Inc()
	r.tickDuration.WithLabelValues(ec).Observe(d.Seconds())
}

// CallbackFailed records a callback that did not return OK.
func (r *Registry) CallbackFailed(ec, component, callback, result string) {
	if r == nil {
		return
	}
	r.callbackFailures.WithLabelValues(ec, component, callback, result).Inc()
}

// SetState records the per-context state of a participant.
func (r *Registry) SetState(ec, component string, state int, to string) {
	if r == nil {
		return
	}
	r.participantState.WithLabelValues(ec, component).Set(float64(state))
	r.transitions.WithLabelValues(ec, component, to).Inc()
}

// ForgetParticipant drops the state series of a removed participant.
func (r *Registry) ForgetParticipant(ec, component string) {
	if r == nil {
		return
	}
	r.participantState.DeleteLabelValues(ec, component)
}

// PortWrite records one value written on an output port.
func (r *Registry) PortWrite(component, port string) {
	if r == nil {
		return
	}
	r.portWrites.WithLabelValues(component, port).Inc()
}

// ConnectorOverwrites returns the overwrite counter of a connector, or nil
// when r is nil.
func (r *Registry) ConnectorOverwrites(component, port, connector string) prometheus.Counter {
	if r == nil {
		return nil
	}
	return r.overwrites.WithLabelValues(component, port, connector)
}

// ForgetConnector drops the overwrite series of a removed connector.
func (r *Registry) ForgetConnector(component, port, connector string) {
	if r == nil {
		return
	}
	r.overwrites.DeleteLabelValues(component, port, connector)
}

// SetComponents records the number of live components.
func (r *Registry) SetComponents(n int) {
	if r == nil {
		return
	}
	r.components.Set(float64(n))
}
