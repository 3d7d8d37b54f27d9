// Package metrics provides a Prometheus metrics registry for the router.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// llm_router_inflight_requests
	inFlight prometheus.Gauge

	// llm_router_requests_total{vendor,model,outcome}
	requestsTotal *prometheus.CounterVec

	// llm_router_request_duration_seconds{vendor,grounded}
	requestDuration *prometheus.HistogramVec

	// llm_router_tokens_total{vendor,model,direction}
	tokensTotal *prometheus.CounterVec

	// llm_router_grounded_runs_total{vendor,mode,effective}
	groundedRuns *prometheus.CounterVec

	// llm_router_citations_total{vendor,anchored}
	citationsTotal *prometheus.CounterVec

	// llm_router_resolver_truncated_total{vendor}
	resolverTruncated *prometheus.CounterVec

	// llm_router_hint_drops_total{vendor,hint}
	hintDrops *prometheus.CounterVec

	// llm_router_breaker_state{key} — 0=closed, 1=open, 2=half_open
	breakerState *prometheus.GaugeVec

	// llm_router_breaker_transitions_total{key,to_state}
	breakerTransitions *prometheus.CounterVec

	// llm_router_breaker_rejections_total{key}
	breakerRejections *prometheus.CounterVec

	// llm_router_pacer_rejections_total{key}
	pacerRejections *prometheus.CounterVec

	// llm_router_telemetry_dropped_total
	telemetryDropped prometheus.Counter

	// llm_router_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// llm_router_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// llm_router_adapter_health{adapter}
	adapterHealth *prometheus.GaugeVec

	// llm_router_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm_router_inflight_requests",
			Help: "Current number of in-flight router completions",
		}),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_requests_total",
				Help: "Total completions by vendor, model, and outcome (ok or error kind)",
			},
			[]string{"vendor", "model", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_router_request_duration_seconds",
				Help:    "End-to-end completion duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
			},
			[]string{"vendor", "grounded"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_tokens_total",
				Help: "Token usage derived from provider usage fields",
			},
			[]string{"vendor", "model", "direction"},
		),

		groundedRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_grounded_runs_total",
				Help: "Grounded completions by mode and effectiveness",
			},
			[]string{"vendor", "mode", "effective"},
		),

		citationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_citations_total",
				Help: "Extracted citations by anchoring",
			},
			[]string{"vendor", "anchored"},
		),

		resolverTruncated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_resolver_truncated_total",
				Help: "Completions whose citation resolution hit a budget or blocklist",
			},
			[]string{"vendor"},
		),

		hintDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_hint_drops_total",
				Help: "Capability-gated hint drops (hint is reasoning or thinking)",
			},
			[]string{"vendor", "hint"},
		),

		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_router_breaker_state",
				Help: "Circuit breaker state per vendor:model (0=closed,1=open,2=half_open)",
			},
			[]string{"key"},
		),

		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state",
			},
			[]string{"key", "to_state"},
		),

		breakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_breaker_rejections_total",
				Help: "Completions rejected by an open circuit breaker",
			},
			[]string{"key"},
		),

		pacerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_pacer_rejections_total",
				Help: "Completions rejected inside a provider pacing window",
			},
			[]string{"key"},
		),

		telemetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_router_telemetry_dropped_total",
			Help: "Telemetry rows dropped because the sink buffer was full",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_router_http_requests_total",
				Help: "Management-plane HTTP requests",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_router_http_request_duration_seconds",
				Help:    "Management-plane HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"route"},
		),

		adapterHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_router_adapter_health",
				Help: "Adapter health status (1=ok, 0=degraded)",
			},
			[]string{"adapter"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_router_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.requestsTotal,
		r.requestDuration,
		r.tokensTotal,
		r.groundedRuns,
		r.citationsTotal,
		r.resolverTruncated,
		r.hintDrops,
		r.breakerState,
		r.breakerTransitions,
		r.breakerRejections,
		r.pacerRejections,
		r.telemetryDropped,
		r.httpRequestsTotal,
		r.httpDuration,
		r.adapterHealth,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// RecordCompletion records one finished completion. outcome is "ok" or the
// error kind.
func (r *Registry) RecordCompletion(vendor, model, outcome string, grounded bool, dur time.Duration) {
	r.requestsTotal.WithLabelValues(vendor, model, outcome).Inc()
	r.requestDuration.WithLabelValues(vendor, strconv.FormatBool(grounded)).Observe(dur.Seconds())
}

func (r *Registry) AddTokens(vendor, model string, prompt, completion int) {
	if prompt > 0 {
		r.tokensTotal.WithLabelValues(vendor, model, "input").Add(float64(prompt))
	}
	if completion > 0 {
		r.tokensTotal.WithLabelValues(vendor, model, "output").Add(float64(completion))
	}
	if prompt+completion > 0 {
		r.tokensTotal.WithLabelValues(vendor, model, "total").Add(float64(prompt + completion))
	}
}

// RecordGroundedRun records grounding mode and effectiveness for one run.
func (r *Registry) RecordGroundedRun(vendor, mode string, effective bool) {
	r.groundedRuns.WithLabelValues(vendor, mode, strconv.FormatBool(effective)).Inc()
}

func (r *Registry) AddCitations(vendor string, anchored, unlinked int) {
	if anchored > 0 {
		r.citationsTotal.WithLabelValues(vendor, "true").Add(float64(anchored))
	}
	if unlinked > 0 {
		r.citationsTotal.WithLabelValues(vendor, "false").Add(float64(unlinked))
	}
}

func (r *Registry) RecordResolverTruncated(vendor string) {
	r.resolverTruncated.WithLabelValues(vendor).Inc()
}

func (r *Registry) RecordHintDrop(vendor, hint string) {
	r.hintDrops.WithLabelValues(vendor, hint).Inc()
}

// RecordBreakerTransition tracks a state change; wired to the breaker's
// OnStateChange hook.
func (r *Registry) RecordBreakerTransition(key, toState string) {
	r.breakerTransitions.WithLabelValues(key, toState).Inc()
	r.breakerState.WithLabelValues(key).Set(stateValue(toState))
}

func (r *Registry) RecordBreakerRejection(key string) {
	r.breakerRejections.WithLabelValues(key).Inc()
}

func (r *Registry) RecordPacerRejection(key string) {
	r.pacerRejections.WithLabelValues(key).Inc()
}

func (r *Registry) RecordTelemetryDropped() {
	r.telemetryDropped.Inc()
}

// ObserveHTTP records management-plane HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

func (r *Registry) SetAdapterHealth(adapter string, ok bool) {
	if ok {
		r.adapterHealth.WithLabelValues(adapter).Set(1)
		return
	}
	r.adapterHealth.WithLabelValues(adapter).Set(0)
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func stateValue(label string) float64 {
	switch label {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
