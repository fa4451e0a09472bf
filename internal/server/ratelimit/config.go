package ratelimit

import (
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// DefaultConfig returns an enabled configuration with the default endpoint tiers.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       make(map[string]bool),
		Blacklist:       make(map[string]bool),
		EndpointConfigs: DefaultEndpointConfigs(20, time.Hour, 3),
	}
}

// DefaultEndpointConfigs returns the endpoint tiers. Submissions start a full audit
// and get the submit budget; everything else falls back to the default limit.
func DefaultEndpointConfigs(submitLimit int, submitWindow time.Duration, submitBurst int) []EndpointConfig {
	return []EndpointConfig{
		// Tier 1: submissions (strictest limits)
		{Path: "/audit", Method: "POST", Limit: submitLimit, Window: submitWindow, Burst: submitBurst},
		{Path: "/widget/audit", Method: "POST", Limit: submitLimit, Window: submitWindow, Burst: submitBurst},

		// Tier 2: polling reads share one bucket per client so a tab polling every
		// 2.5s stays well inside the budget.
		{Path: "/audit/", Method: "GET", Limit: 120, Window: time.Minute, Burst: 20},
		{Path: "/reports/", Method: "GET", Limit: 120, Window: time.Minute, Burst: 20},

		// Tier 3: health and metrics (unlimited) - handled by special case in matcher
	}
}

// ParseIPList parses a list of IP addresses into a set, skipping blanks.
func ParseIPList(list []string) map[string]bool {
	result := make(map[string]bool, len(list))
	for _, ip := range list {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}
	return result
}
