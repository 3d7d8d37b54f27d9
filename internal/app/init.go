package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/llm-router/internal/als"
	"github.com/nulpointcorp/llm-router/internal/capability"
	"github.com/nulpointcorp/llm-router/internal/citations"
	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/mgmt"
	"github.com/nulpointcorp/llm-router/internal/providers"
	geminiprov "github.com/nulpointcorp/llm-router/internal/providers/gemini"
	openaiprov "github.com/nulpointcorp/llm-router/internal/providers/openai"
	vertexprov "github.com/nulpointcorp/llm-router/internal/providers/vertex"
	"github.com/nulpointcorp/llm-router/internal/router"
	"github.com/nulpointcorp/llm-router/internal/telemetry"
	"github.com/nulpointcorp/llm-router/internal/urlcache"
)

// initInfra establishes optional external connections. Redis backs the URL
// cache; ClickHouse backs the telemetry sink. Either may be absent — the
// engine degrades to in-process equivalents.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Redis.URL != "" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	if a.cfg.Telemetry.ClickHouseDSN != "" {
		a.log.Info("connecting to clickhouse",
			slog.String("dsn", redactURL(a.cfg.Telemetry.ClickHouseDSN)),
			slog.String("table", a.cfg.Telemetry.Table),
		)

		sink, err := telemetry.NewCHSink(a.baseCtx, telemetry.CHConfig{
			DSN:           a.cfg.Telemetry.ClickHouseDSN,
			Table:         a.cfg.Telemetry.Table,
			BatchSize:     a.cfg.Telemetry.BatchSize,
			FlushInterval: a.cfg.Telemetry.FlushInterval,
			// a.prom is built in initServices; drops cannot fire before
			// the first run, so the late bind is safe.
			OnDrop: func() {
				if a.prom != nil {
					a.prom.RecordTelemetryDropped()
				}
			},
		})
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.chSink = sink
		a.sink = sink
		a.log.Info("clickhouse connected")
	} else {
		a.sink = telemetry.NewLogSink(a.baseCtx, a.log)
		a.log.Info("telemetry sink: slog (clickhouse not configured)")
	}

	return nil
}

// initAdapters constructs one adapter per vendor whose auth material is
// present. Vertex construction runs the workload-identity check, so a
// misconfigured credential fails startup here instead of on the first run.
func (a *App) initAdapters(ctx context.Context) error {
	a.adapters = make(map[providers.Vendor]providers.Adapter)

	if a.cfg.OpenAI.APIKey != "" {
		var opts []openaiprov.Option
		if a.cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(a.cfg.OpenAI.BaseURL))
		}
		a.adapters[providers.VendorOpenAI] = openaiprov.New(a.cfg.OpenAI.APIKey, opts...)
	}

	if a.cfg.Gemini.APIKey != "" {
		var opts []geminiprov.Option
		if a.cfg.Gemini.BaseURL != "" {
			opts = append(opts, geminiprov.WithBaseURL(a.cfg.Gemini.BaseURL))
		}
		ad, err := geminiprov.New(ctx, a.cfg.Gemini.APIKey, opts...)
		if err != nil {
			return fmt.Errorf("gemini: %w", err)
		}
		a.adapters[providers.VendorGemini] = ad
	}

	if a.cfg.Vertex.Project != "" {
		opts := []vertexprov.Option{vertexprov.WithEnforceWIF(a.cfg.Vertex.EnforceWIF)}
		if a.cfg.Vertex.Location != "" {
			opts = append(opts, vertexprov.WithLocation(a.cfg.Vertex.Location))
		}
		if a.cfg.Vertex.CredentialsFile != "" {
			opts = append(opts, vertexprov.WithCredentialsFile(a.cfg.Vertex.CredentialsFile))
		}
		ad, err := vertexprov.New(ctx, a.cfg.Vertex.Project, opts...)
		if err != nil {
			return fmt.Errorf("vertex: %w", err)
		}
		a.adapters[providers.VendorVertex] = ad
	}

	if len(a.adapters) == 0 {
		return fmt.Errorf("no vendor credentials configured")
	}

	names := make([]string, 0, len(a.adapters))
	for _, ad := range a.adapters {
		names = append(names, ad.Name())
	}
	a.log.Info("adapters loaded", slog.Any("adapters", names))

	return nil
}

// initServices creates the routing services: metrics registry, capability
// registry, ALS builder, citation extractor, and redirect resolver.
func (a *App) initServices(_ context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	a.registry = capability.NewRegistry(capability.Allowlists{
		OpenAI: a.cfg.Allow.OpenAI,
		Gemini: a.cfg.Allow.Gemini,
		Vertex: a.cfg.Allow.Vertex,
	})

	id, secret := a.cfg.SeedKey()
	a.alsBuilder = als.NewBuilder(id, secret, a.cfg.ALS.MaxChars)

	a.extractor = citations.NewExtractor(a.cfg.Citations.ExtractorV2Percent)

	blocklist, err := urlcache.NewBlocklist(a.cfg.Citations.BlockedHosts, a.cfg.Citations.BlockedHostPatterns)
	if err != nil {
		return fmt.Errorf("resolver blocklist: %w", err)
	}

	var cache urlcache.Cache
	if a.rdb != nil {
		cache = urlcache.NewRedisFromClient(a.rdb)
		a.log.Info("url cache backend: redis")
	} else {
		a.memCache = urlcache.NewMemory(a.baseCtx)
		cache = a.memCache
		a.log.Info("url cache backend: memory (in-process)")
	}

	a.resolver = citations.NewResolver(cache, blocklist,
		a.cfg.Citations.ResolverBudget, a.cfg.Citations.ResolverMaxURLs)

	return nil
}

// initRouter assembles the completion router from everything built so far.
func (a *App) initRouter(_ context.Context) error {
	a.rtr = router.New(a.registry, a.adapters, router.Options{
		Logger:    a.log,
		Metrics:   a.prom,
		Telemetry: a.sink,
		ALS:       a.alsBuilder,
		Extractor: a.extractor,
		Resolver:  a.resolver,
		Breaker: router.BreakerConfig{
			FailureThreshold: a.cfg.Breaker.FailureThreshold,
			Cooldown:         a.cfg.Breaker.Cooldown,
			CooldownJitter:   a.cfg.Breaker.CooldownJitter,
		},
		UngroundedTimeout:      a.cfg.Timeouts.Ungrounded,
		GroundedTimeout:        a.cfg.Timeouts.Grounded,
		RelaxRequiredForGoogle: a.cfg.Grounding.RelaxRequiredForGoogle,
		EmitUnlinked:           a.cfg.Grounding.EmitUnlinked,
	})
	return nil
}

// initMgmt wires the health checker and the management HTTP server.
func (a *App) initMgmt(_ context.Context) error {
	byName := make(map[string]providers.Adapter, len(a.adapters))
	for _, ad := range a.adapters {
		byName[ad.Name()] = ad
	}

	var telemetryReady func() bool
	if a.chSink != nil {
		telemetryReady = chPinger(a.baseCtx, a.chSink)
	}
	var cacheReady func() bool
	if a.rdb != nil {
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	}

	a.health = mgmt.NewHealthChecker(a.baseCtx, byName, telemetryReady, cacheReady, a.prom)

	a.srv = mgmt.NewServer(mgmt.Options{
		Logger:  a.log,
		Health:  a.health,
		Metrics: a.prom,
		Version: a.version,
	})

	return nil
}
