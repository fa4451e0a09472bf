package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/types"
)

const (
	// DefaultNavigationTimeout bounds one scrape, navigation included.
	DefaultNavigationTimeout = 45 * time.Second
	// DefaultSettleDelay lets client-side rendering finish before capture.
	DefaultSettleDelay = 2 * time.Second
)

// Viewport is a device size used for emulation.
type Viewport struct {
	Width  int64
	Height int64
	Scale  float64
}

var (
	// DesktopViewport is the desktop capture size.
	DesktopViewport = Viewport{Width: 1440, Height: 900, Scale: 1}
	// MobileViewport is the mobile capture size.
	MobileViewport = Viewport{Width: 390, Height: 844, Scale: 3}
)

// ScrapeOptions configures one capture.
type ScrapeOptions struct {
	IsMobile bool
	// IsFirstPage enables cookie banner dismissal.
	IsFirstPage bool
	// BrowserEndpoint is a remote DevTools websocket URL; empty launches a local browser.
	BrowserEndpoint string
}

// ScrapeResult is the output of one capture.
type ScrapeResult struct {
	Screenshot        types.Screenshot `json:"screenshot"`
	MimeType          string           `json:"mimeType"`
	Title             string           `json:"title,omitempty"`
	LiveText          string           `json:"liveText"`
	AnimationData     map[string]any   `json:"animationData,omitempty"`
	AccessibilityData map[string]any   `json:"accessibilityData,omitempty"`
	AxeViolations     []map[string]any `json:"axeViolations,omitempty"`
}

// Scraper captures a rendered page.
type Scraper interface {
	Scrape(ctx context.Context, url string, opts ScrapeOptions) (*ScrapeResult, error)
}

// ChromeScraper implements Scraper with a headless Chrome driven over DevTools.
type ChromeScraper struct {
	logger  *zap.Logger
	timeout time.Duration
	settle  time.Duration
}

// NewChromeScraper creates a scraper. A zero timeout uses DefaultNavigationTimeout.
func NewChromeScraper(logger *zap.Logger, timeout time.Duration) *ChromeScraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	return &ChromeScraper{logger: logger, timeout: timeout, settle: DefaultSettleDelay}
}

// ViewportFor returns the emulated device for a capture.
func ViewportFor(isMobile bool) Viewport {
	if isMobile {
		return MobileViewport
	}
	return DesktopViewport
}

func (s *ChromeScraper) allocator(ctx context.Context, endpoint string) (context.Context, context.CancelFunc) {
	if endpoint != "" {
		return chromedp.NewRemoteAllocator(ctx, endpoint)
	}
	return chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("hide-scrollbars", true),
		)...,
	)
}

// Scrape implements Scraper.
func (s *ChromeScraper) Scrape(ctx context.Context, url string, opts ScrapeOptions) (*ScrapeResult, error) {
	log := s.logger.With(zap.String("url", url), zap.Bool("mobile", opts.IsMobile))
	start := time.Now()

	allocCtx, cancelAlloc := s.allocator(ctx, opts.BrowserEndpoint)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, s.timeout)
	defer cancelTimeout()

	vp := ViewportFor(opts.IsMobile)
	emulate := []chromedp.EmulateViewportOption{chromedp.EmulateScale(vp.Scale)}
	if opts.IsMobile {
		emulate = append(emulate, chromedp.EmulateMobile, chromedp.EmulateTouch)
	}

	var (
		png        []byte
		html       string
		animation  string
		a11y       string
		violations string
	)
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(vp.Width, vp.Height, emulate...),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(s.settle),
	}
	if opts.IsFirstPage {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			var clicked bool
			// Banner dismissal is best effort
			if err := chromedp.Evaluate(dismissCookieBannerJS, &clicked).Do(ctx); err == nil && clicked {
				log.Debug("dismissed cookie banner")
				return chromedp.Sleep(500 * time.Millisecond).Do(ctx)
			}
			return nil
		}))
	}
	tasks = append(tasks,
		chromedp.FullScreenshot(&png, 100),
		chromedp.OuterHTML("html", &html),
		chromedp.Evaluate(animationSummaryJS, &animation),
		chromedp.Evaluate(accessibilitySummaryJS, &a11y),
		chromedp.Evaluate(violationsJS, &violations),
	)

	if err := chromedp.Run(browserCtx, tasks); err != nil {
		log.Warn("scrape failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, &Error{URL: url, Message: "browser capture failed", Cause: err}
	}

	text, err := ExtractText(html)
	if err != nil {
		return nil, &Error{URL: url, Message: "failed to extract page text", Cause: err}
	}

	result := &ScrapeResult{
		Screenshot: types.Screenshot{
			Data:     base64.StdEncoding.EncodeToString(png),
			IsMobile: opts.IsMobile,
			Source:   "scrape",
		},
		MimeType:          "image/png",
		Title:             PageTitle(html),
		LiveText:          text,
		AnimationData:     decodeSummary(animation),
		AccessibilityData: decodeSummary(a11y),
		AxeViolations:     decodeViolations(violations),
	}
	log.Info("scrape complete",
		zap.Int("screenshot_bytes", len(png)),
		zap.Int("text_len", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func decodeSummary(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeViolations(raw string) []map[string]any {
	if raw == "" {
		return nil
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

const dismissCookieBannerJS = `(() => {
  const words = ["accept all", "accept", "agree", "allow all", "got it", "ok"];
  const nodes = Array.from(document.querySelectorAll("button, [role=button], a"));
  for (const w of words) {
    const hit = nodes.find(n => (n.innerText || "").trim().toLowerCase() === w);
    if (hit) { hit.click(); return true; }
  }
  return false;
})()`

const animationSummaryJS = `(() => {
  const els = Array.from(document.querySelectorAll("*"));
  let animated = 0, transitions = 0;
  const names = new Set();
  for (const el of els) {
    const cs = getComputedStyle(el);
    if (cs.animationName && cs.animationName !== "none") { animated++; names.add(cs.animationName); }
    if (cs.transitionDuration && cs.transitionDuration !== "0s") transitions++;
  }
  return JSON.stringify({
    animatedElements: animated,
    transitionElements: transitions,
    animationNames: Array.from(names).slice(0, 20),
    videos: document.querySelectorAll("video").length,
    prefersReducedMotionQuery: matchMedia("(prefers-reduced-motion: reduce)").matches
  });
})()`

const accessibilitySummaryJS = `(() => {
  const headings = Array.from(document.querySelectorAll("h1,h2,h3,h4,h5,h6")).map(h => h.tagName);
  return JSON.stringify({
    lang: document.documentElement.getAttribute("lang") || "",
    title: document.title,
    headings: headings.slice(0, 50),
    landmarks: document.querySelectorAll("main,nav,header,footer,aside,[role]").length,
    images: document.images.length,
    links: document.links.length,
    formControls: document.querySelectorAll("input,select,textarea").length
  });
})()`

const violationsJS = `(() => {
  const out = [];
  const add = (id, impact, description, nodes) => { if (nodes > 0) out.push({id, impact, description, nodes}); };
  add("image-alt", "critical", "Images must have alternate text",
    Array.from(document.images).filter(i => !i.hasAttribute("alt")).length);
  add("label", "critical", "Form elements must have labels",
    Array.from(document.querySelectorAll("input:not([type=hidden]),select,textarea")).filter(el =>
      !el.getAttribute("aria-label") && !el.getAttribute("aria-labelledby") &&
      !(el.id && document.querySelector("label[for='" + el.id + "']")) && !el.closest("label")).length);
  add("button-name", "critical", "Buttons must have discernible text",
    Array.from(document.querySelectorAll("button")).filter(b => !(b.innerText || "").trim() && !b.getAttribute("aria-label")).length);
  add("html-has-lang", "serious", "The html element must have a lang attribute",
    document.documentElement.hasAttribute("lang") ? 0 : 1);
  add("document-title", "serious", "Documents must have a title", document.title ? 0 : 1);
  add("page-has-heading-one", "moderate", "Page should contain a level-one heading",
    document.querySelector("h1") ? 0 : 1);
  return JSON.stringify(out);
})()`
