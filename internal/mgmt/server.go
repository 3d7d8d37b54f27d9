// Package mgmt serves the operational HTTP surface: health, readiness, and
// Prometheus metrics. Completions are not served here — the engine is a
// library and callers invoke the router directly. Keeping run traffic off
// the wire means the management port can stay cluster-internal without any
// auth story of its own.
package mgmt

import (
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-router/internal/metrics"
)

// Options configures the management server. All fields are optional; a zero
// Options serves a static-ok /health and /readiness with no /metrics route.
type Options struct {
	Logger  *slog.Logger
	Health  *HealthChecker
	Metrics *metrics.Registry
	Version string
}

// Server is the management-plane HTTP server.
type Server struct {
	log     *slog.Logger
	health  *HealthChecker
	version string
	handler fasthttp.RequestHandler
	srv     *fasthttp.Server
}

// NewServer assembles the routes and middleware chain. Start serving with
// ListenAndServe or Serve.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		log:     log,
		health:  opts.Health,
		version: opts.Version,
	}

	r := router.New()
	r.GET("/health", s.handleHealth)
	r.GET("/readiness", s.handleReadiness)
	if opts.Metrics != nil {
		r.GET("/metrics", opts.Metrics.Handler())
	}

	s.handler = applyMiddleware(r.Handler,
		recovery(log),
		requestID,
		timing(log, opts.Metrics),
		securityHeaders,
	)

	s.srv = &fasthttp.Server{
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the full middleware-wrapped handler, mainly for tests that
// serve it over an in-memory listener.
func (s *Server) Handler() fasthttp.RequestHandler { return s.handler }

// ListenAndServe blocks serving on addr (e.g. ":8090") until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("mgmt_listening", slog.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

// Serve blocks serving on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	if s.health == nil {
		writeJSON(ctx, map[string]any{"status": "ok", "version": s.version})
		return
	}
	writeJSON(ctx, s.health.Snapshot())
}

func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.health == nil || s.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
