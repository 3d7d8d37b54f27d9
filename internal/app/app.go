// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra    — external connections (Redis, ClickHouse) when configured
//  2. initAdapters — provider adapters for vendors with auth material
//  3. initServices — capability registry, ALS builder, citations, metrics
//  4. initRouter   — the completion router
//  5. initMgmt     — health checker + management HTTP server
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/llm-router/internal/als"
	"github.com/nulpointcorp/llm-router/internal/capability"
	"github.com/nulpointcorp/llm-router/internal/citations"
	"github.com/nulpointcorp/llm-router/internal/config"
	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/mgmt"
	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/internal/router"
	"github.com/nulpointcorp/llm-router/internal/telemetry"
	"github.com/nulpointcorp/llm-router/internal/urlcache"
)

// Options configures App construction.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Version string
}

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb    *redis.Client
	chSink *telemetry.CHSink

	sink     telemetry.Emitter
	memCache *urlcache.Memory

	prom *metrics.Registry

	registry   *capability.Registry
	alsBuilder *als.Builder
	extractor  *citations.Extractor
	resolver   *citations.Resolver

	adapters map[providers.Vendor]providers.Adapter

	rtr    *router.Router
	health *mgmt.HealthChecker
	srv    *mgmt.Server

	closeMu sync.Mutex
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, opts Options) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("app: config must not be nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: opts.Config, version: opts.Version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"adapters", a.initAdapters},
		{"services", a.initServices},
		{"router", a.initRouter},
		{"mgmt", a.initMgmt},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Router exposes the completion router for embedding callers.
func (a *App) Router() *router.Router { return a.rtr }

// Run starts the management server and blocks until ctx is cancelled or an
// error occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting router",
		slog.String("version", a.version),
		slog.String("mgmt_addr", a.cfg.MgmtAddr),
		slog.Int("adapters", len(a.adapters)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.ListenAndServe(a.cfg.MgmtAddr)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call more than
// once.
func (a *App) Close() {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()

	if a.srv != nil {
		if err := a.srv.Shutdown(); err != nil {
			a.log.Error("mgmt shutdown error", slog.String("error", err.Error()))
		}
		a.srv = nil
	}
	if a.health != nil {
		a.health.Close()
		a.health = nil
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Error("telemetry close error", slog.String("error", err.Error()))
		}
		a.sink = nil
		a.chSink = nil
	}
	if a.memCache != nil {
		_ = a.memCache.Close()
		a.memCache = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisPinger returns a zero-argument probe function suitable for the
// HealthChecker. Reuses the existing client — no new connections.
func redisPinger(ctx context.Context, rdb *redis.Client) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err() == nil
	}
}

// chPinger is the equivalent probe for the ClickHouse telemetry sink.
func chPinger(ctx context.Context, sink *telemetry.CHSink) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return sink.Ping(pingCtx) == nil
	}
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
