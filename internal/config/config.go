// Package config loads layered service configuration: defaults, an optional YAML
// file, a .env file and UXA_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonathan/ux-auditor/internal/llm"
	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. UXA_SERVER_PORT.
const EnvPrefix = "UXA"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	AI        AIConfig        `mapstructure:"ai"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Widget    WidgetConfig    `mapstructure:"widget"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// EventsInterval is how often an SSE stream re-reads its job.
	EventsInterval time.Duration `mapstructure:"events_interval"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig selects the job store. An empty URL uses the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AIConfig configures the AI provider and its retry policy.
type AIConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	PrimaryKey   string `mapstructure:"primary_key"`
	SecondaryKey string `mapstructure:"secondary_key"`
	// BaseURL overrides the OpenAI endpoint for compatible gateways.
	BaseURL                 string        `mapstructure:"base_url"`
	MaxAttempts             int           `mapstructure:"max_attempts"`
	BaseDelay               time.Duration `mapstructure:"base_delay"`
	MaxDelay                time.Duration `mapstructure:"max_delay"`
	CredentialSwitchAttempt int           `mapstructure:"credential_switch_attempt"`
	ImageDropAttempt        int           `mapstructure:"image_drop_attempt"`
}

// ScrapeConfig configures browsers and the performance check.
type ScrapeConfig struct {
	// BrowserEndpoints are remote DevTools URLs shared through the browser pool.
	BrowserEndpoints []string `mapstructure:"browser_endpoints"`
	// LocalBrowsers caps concurrent local Chrome processes when no endpoints are set.
	LocalBrowsers      int           `mapstructure:"local_browsers"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	PerformanceEnabled bool          `mapstructure:"performance_enabled"`
	PageSpeedAPIKey    string        `mapstructure:"pagespeed_api_key"`
}

// StorageConfig configures artifact uploads.
type StorageConfig struct {
	// Driver is "s3" or "memory".
	Driver          string `mapstructure:"driver"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// PipelineConfig tunes job processing.
type PipelineConfig struct {
	BatchSize            int           `mapstructure:"batch_size"`
	BatchPause           time.Duration `mapstructure:"batch_pause"`
	TerminalWriteTimeout time.Duration `mapstructure:"terminal_write_timeout"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	StaleSweepInterval   time.Duration `mapstructure:"stale_sweep_interval"`
}

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DefaultLimit    int           `mapstructure:"default_limit"`
	DefaultWindow   time.Duration `mapstructure:"default_window"`
	SubmitLimit     int           `mapstructure:"submit_limit"`
	SubmitWindow    time.Duration `mapstructure:"submit_window"`
	SubmitBurst     int           `mapstructure:"submit_burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Whitelist       []string      `mapstructure:"whitelist"`
	Blacklist       []string      `mapstructure:"blacklist"`
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.events_interval", "1s")
	v.SetDefault("server.max_body_bytes", 25<<20)

	v.SetDefault("database.url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("ai.provider", string(llm.ProviderGemini))
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.primary_key", "")
	v.SetDefault("ai.secondary_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.max_attempts", 10)
	v.SetDefault("ai.base_delay", "2s")
	v.SetDefault("ai.max_delay", "60s")
	v.SetDefault("ai.credential_switch_attempt", 6)
	v.SetDefault("ai.image_drop_attempt", 6)

	v.SetDefault("scrape.browser_endpoints", []string{})
	v.SetDefault("scrape.local_browsers", 2)
	v.SetDefault("scrape.navigation_timeout", "45s")
	v.SetDefault("scrape.performance_enabled", true)
	v.SetDefault("scrape.pagespeed_api_key", "")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", storage.DefaultAWSRegion)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.public_base_url", "")

	v.SetDefault("pipeline.batch_size", 3)
	v.SetDefault("pipeline.batch_pause", "1s")
	v.SetDefault("pipeline.terminal_write_timeout", "15s")
	v.SetDefault("pipeline.stale_after", "30m")
	v.SetDefault("pipeline.stale_sweep_interval", "5m")

	v.SetDefault("widget.secret", "")
	v.SetDefault("widget.key_ttl", "8760h")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_limit", 600)
	v.SetDefault("rate_limit.default_window", "1m")
	v.SetDefault("rate_limit.submit_limit", 20)
	v.SetDefault("rate_limit.submit_window", "1h")
	v.SetDefault("rate_limit.submit_burst", 3)
	v.SetDefault("rate_limit.cleanup_interval", "5m")
	v.SetDefault("rate_limit.whitelist", []string{})
	v.SetDefault("rate_limit.blacklist", []string{})
}

// bindLegacyEnv maps the unprefixed variables deployments already set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.url":             {EnvPrefix + "_DATABASE_URL", "DATABASE_URL"},
		"ai.primary_key":           {EnvPrefix + "_AI_PRIMARY_KEY", "GEMINI_API_KEY"},
		"ai.secondary_key":         {EnvPrefix + "_AI_SECONDARY_KEY", "GEMINI_API_KEY_SECONDARY"},
		"scrape.pagespeed_api_key": {EnvPrefix + "_SCRAPE_PAGESPEED_API_KEY", "PAGESPEED_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration. envFile is loaded first when it exists; path, when set,
// names a YAML config file.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration has usable values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch llm.Provider(c.AI.Provider) {
	case llm.ProviderGemini, llm.ProviderOpenAI:
	default:
		return fmt.Errorf("config error: ai.provider must be gemini or openai, got %q", c.AI.Provider)
	}
	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("config error: ai.max_attempts must be at least 1")
	}
	switch c.Storage.Driver {
	case "memory":
	case "s3":
		if err := c.Storage.S3().Validate(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	default:
		return fmt.Errorf("config error: storage.driver must be s3 or memory, got %q", c.Storage.Driver)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("config error: pipeline.batch_size must be at least 1")
	}
	if c.Scrape.LocalBrowsers < 1 && len(c.Scrape.BrowserEndpoints) == 0 {
		return fmt.Errorf("config error: scrape.local_browsers must be at least 1 without browser endpoints")
	}
	return c.Widget.normalize()
}

// Credentials returns the configured AI keys in failover order.
func (c AIConfig) Credentials() []string {
	var out []string
	for _, k := range []string{c.PrimaryKey, c.SecondaryKey} {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Policy returns the adapter retry policy.
func (c AIConfig) Policy() llm.Policy {
	p := llm.DefaultPolicy()
	p.MaxAttempts = c.MaxAttempts
	if c.BaseDelay > 0 {
		p.BaseDelay = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		p.MaxDelay = c.MaxDelay
	}
	if c.CredentialSwitchAttempt > 0 {
		p.CredentialSwitchAttempt = c.CredentialSwitchAttempt
	}
	if c.ImageDropAttempt > 0 {
		p.ImageDropAttempt = c.ImageDropAttempt
	}
	return p
}

// Models returns the model configuration of the selected provider.
func (c AIConfig) Models() *llm.Config {
	return llm.ConfigFor(llm.Provider(c.Provider), c.Model)
}

// S3 returns the uploader configuration.
func (c StorageConfig) S3() storage.S3Config {
	return storage.S3Config{
		Bucket:          c.Bucket,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		ForcePathStyle:  c.ForcePathStyle,
		PublicBaseURL:   c.PublicBaseURL,
	}
}

// Log returns the logger configuration.
func (c LoggingConfig) Log() observability.LogConfig {
	return observability.LogConfig{Level: c.Level, Format: c.Format}
}
