package mgmt

import (
	"context"
	"sync"
	"time"

	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/providers"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker runs background probes against the configured adapters, the
// telemetry sink, and the URL cache, and exposes the latest results.
type HealthChecker struct {
	adapters       map[string]providers.Adapter
	telemetryReady func() bool
	cacheReady     func() bool
	baseCtx        context.Context
	metrics        *metrics.Registry

	adapterStatuses map[string]*componentStatus
	telemetryStatus componentStatus
	cacheStatus     componentStatus

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background
// probes. A nil ready func means the component is not configured and reports
// "ok".
func NewHealthChecker(
	ctx context.Context,
	adapters map[string]providers.Adapter,
	telemetryReady, cacheReady func() bool,
	met *metrics.Registry,
) *HealthChecker {
	if ctx == nil {
		panic("mgmt: context must not be nil")
	}
	hc := &HealthChecker{
		adapters:        adapters,
		telemetryReady:  telemetryReady,
		cacheReady:      cacheReady,
		adapterStatuses: make(map[string]*componentStatus),
		startTime:       time.Now(),
		done:            make(chan struct{}),
		baseCtx:         ctx,
		metrics:         met,
	}

	for name := range adapters {
		hc.adapterStatuses[name] = &componentStatus{status: "unknown"}
	}

	// Run first probe synchronously so health is not "unknown" immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot is the JSON body served by GET /health.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Adapters      map[string]string `json:"adapters"`
	Telemetry     string            `json:"telemetry"`
	Cache         string            `json:"cache"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	adapters := make(map[string]string, len(hc.adapterStatuses))
	for name, s := range hc.adapterStatuses {
		st := s.get()
		adapters[name] = st
		if st != "ok" {
			overall = "degraded"
		}
	}

	telemetry := hc.telemetryStatus.get()
	cache := hc.cacheStatus.get()

	if telemetry == "down" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Adapters:      adapters,
		Telemetry:     telemetry,
		Cache:         cache,
	}
}

// ReadinessOK reports whether at least one adapter answered its last probe.
// A process with every upstream unreachable cannot serve a single completion,
// so GET /readiness should pull it out of rotation.
func (hc *HealthChecker) ReadinessOK() bool {
	for _, s := range hc.adapterStatuses {
		if s.get() == "ok" {
			return true
		}
	}
	return false
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	// Adapter probes — run in parallel.
	var wg sync.WaitGroup
	for name, ad := range hc.adapters {
		name, ad := name, ad
		s := hc.adapterStatuses[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ad.HealthCheck(ctx); err != nil {
				s.set("degraded")
				if hc.metrics != nil {
					hc.metrics.SetAdapterHealth(name, false)
				}
			} else {
				s.set("ok")
				if hc.metrics != nil {
					hc.metrics.SetAdapterHealth(name, true)
				}
			}
		}()
	}

	// Telemetry probe — nil means "not configured" → ok.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.telemetryReady == nil || hc.telemetryReady() {
			hc.telemetryStatus.set("ok")
		} else {
			hc.telemetryStatus.set("down")
		}
	}()

	// Cache probe — nil means "not configured" → ok.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.cacheReady == nil || hc.cacheReady() {
			hc.cacheStatus.set("ok")
		} else {
			hc.cacheStatus.set("degraded")
		}
	}()

	wg.Wait()
}
