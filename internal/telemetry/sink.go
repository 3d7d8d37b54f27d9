package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Emitter receives one row per completion. Emit must never block; sinks
// buffer internally and drop under pressure.
type Emitter interface {
	Emit(row Row)
	Close() error
}

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// LogSink writes rows as structured log events. It is the default sink for
// development and for deployments without an analytics store; the batching
// contract matches the ClickHouse sink so swapping them is config-only.
type LogSink struct {
	ch        chan Row
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	baseCtx context.Context
	log     *slog.Logger
}

// NewLogSink starts the background writer. A nil logger falls back to a JSON
// handler on stdout.
func NewLogSink(ctx context.Context, logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	s := &LogSink{
		ch:      make(chan Row, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     logger,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *LogSink) Emit(row Row) {
	row.Sanitize(s.baseCtx)
	select {
	case s.ch <- row:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

func (s *LogSink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

func (s *LogSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *LogSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Row, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, r := range batch {
			s.log.InfoContext(ctx, "llm_run",
				slog.String("run_id", r.RunID),
				slog.String("vendor", r.Vendor),
				slog.String("model", r.Model),
				slog.Int64("latency_ms", r.LatencyMS),
				slog.Bool("success", r.Success),
				slog.String("error_type", r.ErrorType),
				slog.Int64("prompt_tokens", r.PromptTokens),
				slog.Int64("completion_tokens", r.CompletionTokens),
				slog.Bool("grounded", r.Grounded),
				slog.Bool("grounded_effective", r.GroundedEffective),
				slog.Int("tool_call_count", int(r.ToolCallCount)),
				slog.String("why_not_grounded", r.WhyNotGrounded),
				slog.String("required_pass_reason", r.RequiredPassReason),
				slog.Int("anchored_citations", int(r.AnchoredCitations)),
				slog.Int("unlinked_sources", int(r.UnlinkedSources)),
				slog.String("citations_shape_set", strings.Join(r.ShapeSet, ",")),
				slog.String("response_api", r.ResponseAPI),
				slog.Bool("als_present", r.ALSPresent),
				slog.String("als_variant_id", r.ALSVariantID),
				slog.String("circuit_breaker_status", r.BreakerStatus),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-s.ch:
			batch = append(batch, row)
			if len(batch) >= batchSize {
				flush(s.baseCtx)
			}

		case <-ticker.C:
			flush(s.baseCtx)

		case <-s.done:
			for {
				select {
				case row := <-s.ch:
					batch = append(batch, row)
					if len(batch) >= batchSize {
						flush(s.baseCtx)
					}
				default:
					flush(s.baseCtx)
					return
				}
			}
		}
	}
}
