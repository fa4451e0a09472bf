package fetch

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	pagespeedonline "google.golang.org/api/pagespeedonline/v5"
)

// DefaultPerformanceTimeout bounds one PageSpeed run.
const DefaultPerformanceTimeout = 60 * time.Second

// PerformanceResult carries either data or an error message, never both.
type PerformanceResult struct {
	Data  map[string]any
	Error string
}

// PerformanceChecker measures page performance. Failures are reported in the result.
type PerformanceChecker interface {
	Check(ctx context.Context, url string) PerformanceResult
}

// metricAudits are the Lighthouse audits copied into the report.
var metricAudits = []string{
	"first-contentful-paint",
	"largest-contentful-paint",
	"total-blocking-time",
	"cumulative-layout-shift",
	"speed-index",
	"interactive",
}

// PageSpeedChecker implements PerformanceChecker with the PageSpeed Insights v5 API.
type PageSpeedChecker struct {
	service  *pagespeedonline.Service
	strategy string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPageSpeedChecker creates a checker. An empty apiKey uses the unauthenticated quota.
// Extra client options are appended (tests use them to point at a fake endpoint).
func NewPageSpeedChecker(ctx context.Context, apiKey string, logger *zap.Logger, opts ...option.ClientOption) (*PageSpeedChecker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientOpts := []option.ClientOption{}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	} else {
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := pagespeedonline.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PageSpeed client: %w", err)
	}
	return &PageSpeedChecker{service: svc, strategy: "mobile", timeout: DefaultPerformanceTimeout, logger: logger}, nil
}

// Check implements PerformanceChecker.
func (c *PageSpeedChecker) Check(ctx context.Context, url string) PerformanceResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.service.Pagespeedapi.Runpagespeed(url).
		Strategy(c.strategy).
		Category("performance").
		Context(ctx).
		Do()
	if err != nil {
		c.logger.Warn("performance check failed", zap.String("url", url), zap.Error(err))
		return PerformanceResult{Error: fmt.Sprintf("performance check failed: %v", err)}
	}
	return PerformanceResult{Data: summarizeLighthouse(resp, c.strategy)}
}

func summarizeLighthouse(resp *pagespeedonline.PagespeedApiPagespeedResponseV5, strategy string) map[string]any {
	data := map[string]any{"strategy": strategy}
	lh := resp.LighthouseResult
	if lh == nil {
		return data
	}
	if lh.Categories != nil && lh.Categories.Performance != nil {
		if score, ok := lh.Categories.Performance.Score.(float64); ok {
			data["performanceScore"] = math.Round(score * 100)
		}
	}
	metrics := make(map[string]any, len(metricAudits))
	for _, id := range metricAudits {
		audit, ok := lh.Audits[id]
		if !ok {
			continue
		}
		metrics[id] = map[string]any{
			"title":        audit.Title,
			"displayValue": audit.DisplayValue,
			"numericValue": audit.NumericValue,
		}
	}
	data["metrics"] = metrics
	return data
}
