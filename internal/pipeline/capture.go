package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/fetch"
	"github.com/jonathan/ux-auditor/internal/storage"
	"github.com/jonathan/ux-auditor/internal/types"
)

// captureStandard scrapes every URL input and synthesizes screenshots for uploads.
// The first URL input is the primary target.
func (p *Processor) captureStandard(ctx context.Context, r *run) error {
	defer p.deps.Metrics.ObserveStage("scrape", time.Now())

	uploadedOnly := true
	firstPage := true
	for i, in := range r.job.InputData.Inputs {
		switch in.Type {
		case types.InputURL:
			uploadedOnly = false
			if err := r.append(ctx, fmt.Sprintf("Scraping input %d of %d", i+1, len(r.job.InputData.Inputs)), nil); err != nil {
				return err
			}
			t, err := p.scrapeTarget(ctx, r, in.URL, firstPage, true)
			if err != nil {
				return err
			}
			firstPage = false
			if r.primaryURL == "" {
				r.primaryURL = in.URL
			}
			r.targets = append(r.targets, *t)
		case types.InputUpload:
			shots, mime, err := fetch.ScreenshotsFromUpload(in.Files)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			for _, s := range shots {
				raw, err := base64.StdEncoding.DecodeString(s.Data)
				if err != nil {
					return fmt.Errorf("input %d: %w", i, err)
				}
				r.captures = append(r.captures, &capture{shot: s, image: raw, mime: mime})
			}
			if r.mimeType == "" {
				r.mimeType = mime
			}
		default:
			return fmt.Errorf("input %d: unsupported type %q", i, in.Type)
		}
	}

	p.uploadScreenshots(ctx, r)

	partial := map[string]any{
		types.KeyScreenshots: r.screenshots(),
		types.KeyMimeType:    r.mimeType,
	}
	if r.primaryURL != "" {
		partial[types.KeyURL] = r.primaryURL
	}
	msg := "Scrape complete"
	if uploadedOnly {
		msg = "Scrape complete (uploaded image)"
	}
	return r.append(ctx, msg, partial)
}

// captureCompetitor scrapes the primary and competitor sites, desktop only.
func (p *Processor) captureCompetitor(ctx context.Context, r *run) error {
	defer p.deps.Metrics.ObserveStage("scrape", time.Now())

	data := r.job.InputData
	var primaryURL, competitorURL string
	for i, in := range data.Inputs {
		if data.RoleOf(i) == types.RolePrimary {
			primaryURL = in.URL
		} else {
			competitorURL = in.URL
		}
	}
	if primaryURL == "" || competitorURL == "" {
		return errors.New("competitor audit needs a primary and a competitor URL")
	}

	if err := r.append(ctx, "Scraping primary site", nil); err != nil {
		return err
	}
	primary, err := p.scrapeTarget(ctx, r, primaryURL, true, false)
	if err != nil {
		return err
	}
	if err := r.append(ctx, "Scraping competitor site", nil); err != nil {
		return err
	}
	competitor, err := p.scrapeTarget(ctx, r, competitorURL, true, false)
	if err != nil {
		return err
	}
	r.primaryURL = primaryURL
	r.targets = []target{*primary}
	r.competitor = competitor

	p.uploadScreenshots(ctx, r)
	return r.append(ctx, "Scrape complete", map[string]any{
		types.KeyURL:           primaryURL,
		types.KeyCompetitorURL: competitorURL,
		types.KeyScreenshots:   r.screenshots(),
		types.KeyMimeType:      r.mimeType,
	})
}

// scrapeTarget captures url on desktop and, when withMobile is set, on mobile.
// Both captures share one browser lease.
func (p *Processor) scrapeTarget(ctx context.Context, r *run, url string, firstPage, withMobile bool) (*target, error) {
	endpoint := ""
	if p.deps.Browsers != nil {
		lease, err := p.deps.Browsers.Acquire(ctx, r.job.ID.String())
		if err != nil {
			return nil, fmt.Errorf("scrape %s: %w", url, err)
		}
		defer lease.Release()
		endpoint = lease.Resource
	}

	desktop, err := p.deps.Scraper.Scrape(ctx, url, fetch.ScrapeOptions{IsFirstPage: firstPage, BrowserEndpoint: endpoint})
	if err != nil {
		return nil, fmt.Errorf("scrape %s (desktop): %w", url, err)
	}
	if err := r.addCapture(desktop); err != nil {
		return nil, fmt.Errorf("scrape %s (desktop): %w", url, err)
	}
	t := &target{
		url:               url,
		liveText:          desktop.LiveText,
		animationData:     desktop.AnimationData,
		accessibilityData: desktop.AccessibilityData,
		axeViolations:     desktop.AxeViolations,
	}

	if withMobile {
		mobile, err := p.deps.Scraper.Scrape(ctx, url, fetch.ScrapeOptions{IsMobile: true, BrowserEndpoint: endpoint})
		if err != nil {
			return nil, fmt.Errorf("scrape %s (mobile): %w", url, err)
		}
		if err := r.addCapture(mobile); err != nil {
			return nil, fmt.Errorf("scrape %s (mobile): %w", url, err)
		}
	}
	r.log.Info("target scraped", zap.String("url", url), zap.Int("live_text_len", len(t.liveText)))
	return t, nil
}

func (r *run) addCapture(res *fetch.ScrapeResult) error {
	raw, err := base64.StdEncoding.DecodeString(res.Screenshot.Data)
	if err != nil {
		return fmt.Errorf("decode screenshot: %w", err)
	}
	mime := res.MimeType
	if mime == "" {
		mime = "image/png"
	}
	if r.mimeType == "" {
		r.mimeType = mime
	}
	shot := res.Screenshot
	shot.Source = "scrape"
	r.captures = append(r.captures, &capture{shot: shot, image: raw, mime: mime})
	return nil
}

// uploadScreenshots uploads every capture that has no URL yet. A failed upload keeps
// the image inline. Calling it again only retries the failures.
func (p *Processor) uploadScreenshots(ctx context.Context, r *run) {
	if p.deps.Uploader == nil {
		return
	}
	for i, c := range r.captures {
		if c.shot.URL != "" {
			continue
		}
		key := storage.ScreenshotKey(r.job.ID, i, c.shot.IsMobile, storage.ExtensionFor(c.mime))
		url, err := p.deps.Uploader.Upload(ctx, key, c.image, c.mime)
		if err != nil {
			r.log.Warn("screenshot upload failed, keeping inline", zap.String("key", key), zap.Error(err))
			c.shot.Data = base64.StdEncoding.EncodeToString(c.image)
			c.shot.UploadError = err.Error()
			continue
		}
		c.shot.URL = url
		c.shot.Path = key
		c.shot.Data = ""
		c.shot.UploadError = ""
	}
}

// checkPerformance runs the performance check for the primary URL. Its failure is recorded,
// never returned.
func (p *Processor) checkPerformance(ctx context.Context, r *run) error {
	if p.deps.Performance == nil {
		return nil
	}
	defer p.deps.Metrics.ObserveStage("performance", time.Now())

	if err := r.append(ctx, "Checking performance", nil); err != nil {
		return err
	}
	res := p.deps.Performance.Check(ctx, r.primaryURL)
	partial := map[string]any{}
	msg := "Performance check complete"
	if res.Error != "" {
		r.performanceError = res.Error
		partial[types.KeyPerformanceError] = res.Error
		msg = "Performance check failed: " + res.Error
	}
	if res.Data != nil {
		r.performanceData = res.Data
		partial[types.KeyPerformance] = res.Data
	}
	return r.append(ctx, msg, partial)
}
