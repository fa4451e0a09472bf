package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ux-auditor/internal/llm"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, 10, cfg.AI.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.AI.BaseDelay)
	assert.Equal(t, 45*time.Second, cfg.Scrape.NavigationTimeout)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Pipeline.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.StaleAfter)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.Widget.Enabled())
}

func TestLoad_YAMLFile(t *testing.T) {
	content := `
server:
  port: 9090
  public_base_url: https://audit.example.com
ai:
  provider: openai
  model: gpt-4o
pipeline:
  batch_size: 2
  batch_pause: 250ms
scrape:
  browser_endpoints:
    - ws://chrome-1:9222
    - ws://chrome-2:9222
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://audit.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, llm.ProviderOpenAI, cfg.AI.Models().Provider)
	assert.Equal(t, "gpt-4o", cfg.AI.Models().GetModel(llm.TierLite))
	assert.Equal(t, 2, cfg.Pipeline.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.BatchPause)
	assert.Equal(t, []string{"ws://chrome-1:9222", "ws://chrome-2:9222"}, cfg.Scrape.BrowserEndpoints)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("UXA_SERVER_PORT", "7070")
	t.Setenv("UXA_PIPELINE_STALE_AFTER", "10m")
	t.Setenv("GEMINI_API_KEY", "primary")
	t.Setenv("UXA_AI_SECONDARY_KEY", "secondary")
	t.Setenv("DATABASE_URL", "postgres://localhost/audits")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.StaleAfter)
	assert.Equal(t, []string{"primary", "secondary"}, cfg.AI.Credentials())
	assert.Equal(t, "postgres://localhost/audits", cfg.Database.URL)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("UXA_LOGGING_LEVEL=debug\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("UXA_LOGGING_LEVEL") })

	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml", "")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("", "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "unknown provider", mutate: func(c *Config) { c.AI.Provider = "claude" }, wantErr: "ai.provider"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.Driver = "s3" }, wantErr: "bucket"},
		{name: "unknown storage driver", mutate: func(c *Config) { c.Storage.Driver = "gcs" }, wantErr: "storage.driver"},
		{name: "zero batch", mutate: func(c *Config) { c.Pipeline.BatchSize = 0 }, wantErr: "batch_size"},
		{name: "short widget secret", mutate: func(c *Config) { c.Widget.Secret = "short" }, wantErr: "widget.secret"},
		{name: "widget ttl too small", mutate: func(c *Config) {
			c.Widget.Secret = "0123456789abcdef0123"
			c.Widget.KeyTTL = time.Minute
		}, wantErr: "widget.key_ttl"},
		{name: "no browsers", mutate: func(c *Config) { c.Scrape.LocalBrowsers = 0 }, wantErr: "local_browsers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAIConfig_Policy(t *testing.T) {
	cfg := AIConfig{MaxAttempts: 4, BaseDelay: time.Second, CredentialSwitchAttempt: 3}
	p := cfg.Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 3, p.CredentialSwitchAttempt)
	assert.Equal(t, llm.DefaultPolicy().ImageDropAttempt, p.ImageDropAttempt)
}

func TestAIConfig_CredentialsSkipsBlank(t *testing.T) {
	assert.Equal(t, []string{"b"}, AIConfig{PrimaryKey: " ", SecondaryKey: "b"}.Credentials())
	assert.Nil(t, AIConfig{}.Credentials())
}
