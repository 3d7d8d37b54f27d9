// Command providers runs lightweight HTTP mock servers that simulate the
// upstream LLM APIs. It is used for end-to-end and load testing without real
// credentials.
//
// Each upstream listens on its own port:
//
//	OpenAI (Responses API)          :19001
//	Google (generateContent)        :19003
//
// Point the router at them:
//
//	OPENAI_BASE_URL=http://localhost:19001/v1
//	GEMINI_BASE_URL=http://localhost:19003/v1beta
//
// Environment overrides (PORT_<PROVIDER>):
//
//	PORT_OPENAI, PORT_GOOGLE
//
// Behaviour flags (via env):
//
//	MOCK_LATENCY_MS   — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE   — fraction [0,1] of requests that return HTTP 500 (default 0)
//	MOCK_ANSWER_WORDS — words in the generated answer (default 12)
//	MOCK_GROUNDING    — evidence emitted on grounded requests:
//	                    "full" (anchored, default), "unlinked" (sources
//	                    without supports/annotations), "none" (tool never
//	                    invoked)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Config holds runtime configuration shared across all mock servers.
type Config struct {
	LatencyMS   int
	ErrorRate   float64
	AnswerWords int
	Grounding   string
}

func loadConfig() Config {
	c := Config{AnswerWords: 12, Grounding: "full"}

	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_ANSWER_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.AnswerWords = n
		}
	}
	switch v := os.Getenv("MOCK_GROUNDING"); v {
	case "unlinked", "none":
		c.Grounding = v
	}
	return c
}

func portFromEnv(key string, defaultPort int) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return strconv.Itoa(defaultPort)
}

func startServer(name, addr string, h http.Handler, log *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info("mock provider listening", slog.String("provider", name), slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("provider", name), slog.String("error", err.Error()))
		}
	}()
	return srv
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	log.Info("starting mock providers",
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Int("answer_words", cfg.AnswerWords),
		slog.String("grounding", cfg.Grounding),
	)

	servers := []*http.Server{
		startServer("openai", ":"+portFromEnv("PORT_OPENAI", 19001), newOpenAIHandler(cfg), log),
		startServer("google", ":"+portFromEnv("PORT_GOOGLE", 19003), newGoogleHandler(cfg), log),
	}

	// Print readiness
	fmt.Println("READY")

	// Wait for signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mock providers")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(s *http.Server) {
			defer wg.Done()
			_ = s.Shutdown(ctx)
		}(srv)
	}
	wg.Wait()
	log.Info("mock providers stopped")
}
