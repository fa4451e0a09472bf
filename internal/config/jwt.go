package config

import (
	"fmt"
	"time"
)

// minWidgetSecretLen is the shortest accepted HS256 widget secret.
const minWidgetSecretLen = 16

// WidgetConfig holds configuration for signing and validating widget keys.
// An empty secret disables the widget endpoint.
type WidgetConfig struct {
	Secret string        `mapstructure:"secret"`
	KeyTTL time.Duration `mapstructure:"key_ttl"`
}

// Enabled reports whether widget keys can be issued and checked.
func (c WidgetConfig) Enabled() bool {
	return c.Secret != ""
}

// normalize validates the configuration.
func (c *WidgetConfig) normalize() error {
	if c.Secret == "" {
		return nil
	}
	if len(c.Secret) < minWidgetSecretLen {
		return fmt.Errorf("config error: widget.secret must be at least %d characters", minWidgetSecretLen)
	}
	if c.KeyTTL < time.Hour {
		return fmt.Errorf("config error: widget.key_ttl must be at least 1 hour, got: %s", c.KeyTTL)
	}
	return nil
}
