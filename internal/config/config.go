// Package config loads and validates all runtime configuration for the
// routing engine.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example OPENAI_API_KEY becomes
// openai_api_key in YAML.
//
// Only one vendor needs credentials for the engine to start. Redis and
// ClickHouse are optional: without REDIS_URL the citation resolver uses an
// in-process cache, and without CLICKHOUSE_DSN telemetry rows go to the
// structured log.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// MgmtAddr is the listen address of the management plane
	// (/health, /readiness, /metrics). Default: ":8090".
	MgmtAddr string

	// LogLevel controls the minimum log level. One of: debug, info, warn,
	// error. Default: info.
	LogLevel string

	// OpenAI holds credentials for the OpenAI Responses backend.
	OpenAI OpenAIConfig

	// Gemini holds credentials for the direct Gemini API backend.
	Gemini GeminiConfig

	// Vertex holds the Google Cloud settings for the Vertex backend.
	// Auth is resolved via Application Default Credentials.
	Vertex VertexConfig

	// Allow holds the per-vendor model allowlists. A model absent from its
	// vendor's list is rejected with MODEL_NOT_ALLOWED; there is no implicit
	// substitution.
	Allow AllowConfig

	// ALS controls the Ambient Location Signal builder.
	ALS ALSConfig

	// Breaker controls the per-(vendor:model) circuit breaker.
	Breaker BreakerConfig

	// Timeouts are the outer deadlines the router applies around adapter
	// dispatch. Grounded runs get the longer budget.
	Timeouts TimeoutConfig

	// Grounding tunes REQUIRED-mode enforcement and citation emission.
	Grounding GroundingConfig

	// Citations controls the extractor rollout and the redirect resolver.
	Citations CitationsConfig

	// Redis holds the connection URL for the resolver URL cache. Optional.
	Redis RedisConfig

	// Telemetry configures the per-run row sink.
	Telemetry TelemetryConfig
}

// OpenAIConfig holds OpenAI backend settings.
type OpenAIConfig struct {
	// APIKey enables the vendor when non-empty.
	APIKey string
	// BaseURL overrides the default endpoint. Useful for mocks.
	BaseURL string
}

// GeminiConfig holds direct Gemini API settings.
type GeminiConfig struct {
	// APIKey enables the vendor when non-empty.
	APIKey string
	// BaseURL overrides the default endpoint. Useful for mocks.
	BaseURL string
}

// VertexConfig holds Vertex backend settings.
type VertexConfig struct {
	// Project is the Google Cloud project ID. Enables the vendor when set.
	Project string
	// Location is the Vertex region. Default: "europe-west4". Reported
	// verbatim in telemetry as the run's region.
	Location string
	// EnforceWIF requires the ambient credentials to be Workload Identity
	// Federation (external_account) material. Startup fails otherwise.
	EnforceWIF bool
	// CredentialsFile overrides GOOGLE_APPLICATION_CREDENTIALS for the WIF
	// check. Empty means use the env var.
	CredentialsFile string
}

// AllowConfig holds the per-vendor model allowlists (comma-separated in env).
type AllowConfig struct {
	OpenAI []string
	Gemini []string
	Vertex []string
}

// ALSConfig controls the Ambient Location Signal builder.
type ALSConfig struct {
	// MaxChars is the hard NFC length limit for a rendered block.
	// Oversized blocks fail the run; they are never truncated. Default: 350.
	MaxChars int
	// SeedKeyID selects the active seed key from SeedKeys.
	SeedKeyID string
	// SeedKeys maps seed key IDs to secrets ("k1=secret,k2=secret" in env).
	// Rotating the active key changes variant selection but never the
	// determinism guarantee.
	SeedKeys map[string]string
}

// BreakerConfig controls the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that
	// open a key. Default: 5.
	FailureThreshold int
	// Cooldown is the minimum open duration. Default: 60s.
	Cooldown time.Duration
	// CooldownJitter is the random additional open duration, drawn uniformly
	// per trip. Default: 60s (open window spans [60s, 120s]).
	CooldownJitter time.Duration
}

// TimeoutConfig holds the outer run deadlines.
type TimeoutConfig struct {
	// Ungrounded is the deadline for plain runs. Default: 60s.
	Ungrounded time.Duration
	// Grounded is the deadline for web-grounded runs. Default: 120s.
	Grounded time.Duration
}

// GroundingConfig tunes enforcement and emission.
type GroundingConfig struct {
	// RelaxRequiredForGoogle lets Google REQUIRED runs pass on unlinked
	// evidence (recorded as required_pass_reason="unlinked_google").
	// Default: false — unlinked-only evidence fails REQUIRED everywhere.
	RelaxRequiredForGoogle bool
	// EmitUnlinked includes unlinked sources in the response citations array.
	// REQUIRED semantics are unaffected. Default: false.
	EmitUnlinked bool
}

// CitationsConfig controls the extractor rollout and the redirect resolver.
type CitationsConfig struct {
	// ExtractorV2Percent is the tenant percentage routed to the
	// union-of-views extractor. Bucketing is deterministic per tenant.
	// Default: 100.
	ExtractorV2Percent int
	// ResolverBudget is the wall-clock budget for resolving one response's
	// redirect URLs. Default: 3s.
	ResolverBudget time.Duration
	// ResolverMaxURLs caps resolutions per response; the rest stay
	// redirect_only. Default: 8.
	ResolverMaxURLs int
	// BlockedHosts are exact hosts the resolver must never fetch.
	BlockedHosts []string
	// BlockedHostPatterns are Go regexps matched against hosts.
	BlockedHostPatterns []string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// TelemetryConfig configures the run-row sink.
type TelemetryConfig struct {
	// ClickHouseDSN enables the ClickHouse sink when non-empty,
	// e.g. "clickhouse://default:@localhost:9000/llm". Empty routes rows to
	// the structured log.
	ClickHouseDSN string
	// Table is the destination table name. Default: "llm_runs".
	Table string
	// BatchSize is the insert batch size. Default: 100.
	BatchSize int
	// FlushInterval bounds how long a partial batch may wait. Default: 1s.
	FlushInterval time.Duration
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
//
// At least one vendor must be configured (OPENAI_API_KEY, GOOGLE_API_KEY, or
// VERTEX_PROJECT). REDIS_URL and CLICKHOUSE_DSN are optional.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("MGMT_ADDR", ":8090")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("ALLOWED_OPENAI_MODELS", "gpt-5,gpt-5-mini,gpt-4o,gpt-4o-mini,o3,o4-mini")
	v.SetDefault("ALLOWED_GEMINI_MODELS", "gemini-2.5-pro")
	v.SetDefault("ALLOWED_VERTEX_MODELS", "gemini-2.5-pro")

	v.SetDefault("ALS_MAX_CHARS", 350)
	v.SetDefault("ALS_SEED_KEY_ID", "k1")
	v.SetDefault("ALS_SEED_KEYS", "k1=dev-only-rotate-me")

	v.SetDefault("CB_FAILURE_THRESHOLD", 5)
	v.SetDefault("CB_COOLDOWN_SECONDS", 60)
	v.SetDefault("CB_COOLDOWN_JITTER_SECONDS", 60)

	v.SetDefault("LLM_TIMEOUT_UNGROUNDED", 60)
	v.SetDefault("LLM_TIMEOUT_GROUNDED", 120)

	v.SetDefault("VERTEX_LOCATION", "europe-west4")
	v.SetDefault("VERTEX_ENFORCE_WIF", false)

	v.SetDefault("REQUIRED_RELAX_FOR_GOOGLE", false)
	v.SetDefault("EMIT_UNLINKED", false)

	v.SetDefault("CITATION_EXTRACTOR_V2_PCT", 100)
	v.SetDefault("RESOLVER_BUDGET_MS", 3000)
	v.SetDefault("RESOLVER_MAX_URLS", 8)

	v.SetDefault("CLICKHOUSE_TABLE", "llm_runs")
	v.SetDefault("TELEMETRY_BATCH_SIZE", 100)
	v.SetDefault("TELEMETRY_FLUSH_INTERVAL", "1s")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		MgmtAddr: v.GetString("MGMT_ADDR"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		OpenAI: OpenAIConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_BASE_URL")},
		Gemini: GeminiConfig{APIKey: v.GetString("GOOGLE_API_KEY"), BaseURL: v.GetString("GEMINI_BASE_URL")},

		Vertex: VertexConfig{
			Project:         v.GetString("VERTEX_PROJECT"),
			Location:        v.GetString("VERTEX_LOCATION"),
			EnforceWIF:      v.GetBool("VERTEX_ENFORCE_WIF"),
			CredentialsFile: v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
		},

		Allow: AllowConfig{
			OpenAI: splitList(v.GetString("ALLOWED_OPENAI_MODELS")),
			Gemini: splitList(v.GetString("ALLOWED_GEMINI_MODELS")),
			Vertex: splitList(v.GetString("ALLOWED_VERTEX_MODELS")),
		},

		ALS: ALSConfig{
			MaxChars:  v.GetInt("ALS_MAX_CHARS"),
			SeedKeyID: v.GetString("ALS_SEED_KEY_ID"),
			SeedKeys:  parseSeedKeys(v.GetString("ALS_SEED_KEYS")),
		},

		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("CB_FAILURE_THRESHOLD"),
			Cooldown:         time.Duration(v.GetInt("CB_COOLDOWN_SECONDS")) * time.Second,
			CooldownJitter:   time.Duration(v.GetInt("CB_COOLDOWN_JITTER_SECONDS")) * time.Second,
		},

		Timeouts: TimeoutConfig{
			Ungrounded: time.Duration(v.GetInt("LLM_TIMEOUT_UNGROUNDED")) * time.Second,
			Grounded:   time.Duration(v.GetInt("LLM_TIMEOUT_GROUNDED")) * time.Second,
		},

		Grounding: GroundingConfig{
			RelaxRequiredForGoogle: v.GetBool("REQUIRED_RELAX_FOR_GOOGLE"),
			EmitUnlinked:           v.GetBool("EMIT_UNLINKED"),
		},

		Citations: CitationsConfig{
			ExtractorV2Percent:  v.GetInt("CITATION_EXTRACTOR_V2_PCT"),
			ResolverBudget:      time.Duration(v.GetInt("RESOLVER_BUDGET_MS")) * time.Millisecond,
			ResolverMaxURLs:     v.GetInt("RESOLVER_MAX_URLS"),
			BlockedHosts:        splitList(v.GetString("RESOLVER_BLOCKED_HOSTS")),
			BlockedHostPatterns: splitList(v.GetString("RESOLVER_BLOCKED_HOST_PATTERNS")),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Telemetry: TelemetryConfig{
			ClickHouseDSN: v.GetString("CLICKHOUSE_DSN"),
			Table:         v.GetString("CLICKHOUSE_TABLE"),
			BatchSize:     v.GetInt("TELEMETRY_BATCH_SIZE"),
			FlushInterval: v.GetDuration("TELEMETRY_FLUSH_INTERVAL"),
		},
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if !c.AtLeastOneVendor() {
		return fmt.Errorf(
			"config: at least one vendor must be configured; " +
				"set OPENAI_API_KEY, GOOGLE_API_KEY, or VERTEX_PROJECT",
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.ALS.MaxChars < 1 {
		return fmt.Errorf("config: ALS_MAX_CHARS must be ≥ 1, got %d", c.ALS.MaxChars)
	}
	if len(c.ALS.SeedKeys) == 0 {
		return fmt.Errorf(
			"config: ALS_SEED_KEYS is empty; provide at least one entry as id=secret " +
				"(comma-separated for multiple keys)",
		)
	}
	if _, ok := c.ALS.SeedKeys[c.ALS.SeedKeyID]; !ok {
		return fmt.Errorf(
			"config: ALS_SEED_KEY_ID %q has no entry in ALS_SEED_KEYS; "+
				"add %q to ALS_SEED_KEYS or point ALS_SEED_KEY_ID at an existing key",
			c.ALS.SeedKeyID, c.ALS.SeedKeyID,
		)
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: CB_FAILURE_THRESHOLD must be ≥ 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("config: CB_COOLDOWN_SECONDS must be positive")
	}
	if c.Breaker.CooldownJitter < 0 {
		return fmt.Errorf("config: CB_COOLDOWN_JITTER_SECONDS must be ≥ 0")
	}

	if c.Timeouts.Ungrounded <= 0 || c.Timeouts.Grounded <= 0 {
		return fmt.Errorf("config: LLM_TIMEOUT_UNGROUNDED and LLM_TIMEOUT_GROUNDED must be positive")
	}

	if c.Citations.ExtractorV2Percent < 0 || c.Citations.ExtractorV2Percent > 100 {
		return fmt.Errorf(
			"config: CITATION_EXTRACTOR_V2_PCT must be in [0,100], got %d",
			c.Citations.ExtractorV2Percent,
		)
	}
	if c.Citations.ResolverMaxURLs < 0 {
		return fmt.Errorf("config: RESOLVER_MAX_URLS must be ≥ 0")
	}

	if c.Vertex.EnforceWIF && c.Vertex.Project == "" {
		return fmt.Errorf(
			"config: VERTEX_ENFORCE_WIF=true requires VERTEX_PROJECT; " +
				"set the project or disable WIF enforcement",
		)
	}

	return nil
}

// AtLeastOneVendor returns true if at least one vendor has credentials.
func (c *Config) AtLeastOneVendor() bool {
	return c.OpenAI.APIKey != "" ||
		c.Gemini.APIKey != "" ||
		c.Vertex.Project != ""
}

// SeedKey returns the active ALS seed key material.
func (c *Config) SeedKey() (id string, secret []byte) {
	return c.ALS.SeedKeyID, []byte(c.ALS.SeedKeys[c.ALS.SeedKeyID])
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseSeedKeys parses "id=secret,id2=secret2". Malformed entries are
// dropped; validate() catches the empty-map case.
func parseSeedKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, secret, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" || secret == "" {
			continue
		}
		keys[id] = secret
	}
	return keys
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
