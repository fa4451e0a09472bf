package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/ux-auditor/internal/llm"
	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/prompts"
	"github.com/jonathan/ux-auditor/internal/schemas"
	"github.com/jonathan/ux-auditor/internal/types"
)

const (
	// maxExpertImages caps the screenshots sent with one expert call.
	maxExpertImages = 4
	// maxPromptText caps page text per target in a prompt.
	maxPromptText = 12000
	// maxFailureDetail caps the error text copied into a progress line.
	maxFailureDetail = 200
)

// Expert is one AI analysis stage.
type Expert struct {
	// Key is the reportData field the result is stored under.
	Key string
	// Name is used in progress messages.
	Name string
	// Stage selects the prompt pair.
	Stage  string
	Schema string
	Tier   llm.ModelTier
}

var (
	UXExpert            = Expert{Key: types.KeyUXExpert, Name: "UX", Stage: "ux", Schema: schemas.UX, Tier: llm.TierAdvanced}
	ProductExpert       = Expert{Key: types.KeyProductExpert, Name: "Product", Stage: "product", Schema: schemas.Product, Tier: llm.TierStandard}
	VisualExpert        = Expert{Key: types.KeyVisualExpert, Name: "Visual", Stage: "visual", Schema: schemas.Visual, Tier: llm.TierAdvanced}
	StrategyExpert      = Expert{Key: types.KeyStrategyExpert, Name: "Strategy", Stage: "strategy", Schema: schemas.Strategy, Tier: llm.TierStandard}
	AccessibilityExpert = Expert{Key: types.KeyA11yExpert, Name: "Accessibility", Stage: "accessibility", Schema: schemas.Accessibility, Tier: llm.TierStandard}
	CompetitorExpert    = Expert{Key: types.KeyCompetitorExpert, Name: "Competitor analysis", Stage: "competitor", Schema: schemas.Competitor, Tier: llm.TierAdvanced}
)

// StandardExperts run in this order, batched.
var StandardExperts = []Expert{UXExpert, ProductExpert, VisualExpert, StrategyExpert, AccessibilityExpert}

// issueExperts feed the contextual re-rank.
var issueExperts = []Expert{UXExpert, ProductExpert, VisualExpert, AccessibilityExpert}

// runExperts runs experts in batches of BatchSize with a pause between batches.
// An expert failure is recorded on its key and does not stop the others.
func (p *Processor) runExperts(ctx context.Context, r *run, experts []Expert) error {
	defer p.deps.Metrics.ObserveStage("experts", time.Now())

	content := p.expertContent(r)
	for start := 0; start < len(experts); start += p.opts.BatchSize {
		if start > 0 && p.opts.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.BatchPause):
			}
		}
		end := min(start+p.opts.BatchSize, len(experts))

		g, gctx := errgroup.WithContext(ctx)
		for _, e := range experts[start:end] {
			g.Go(func() (err error) {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("%s analysis panic: %v", e.Name, rec)
					}
				}()
				return p.runExpert(gctx, r, e, content)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// runExpert returns an error only when progress cannot be written.
func (p *Processor) runExpert(ctx context.Context, r *run, e Expert, content string) error {
	if err := r.append(ctx, fmt.Sprintf("Running %s analysis", e.Name), nil); err != nil {
		return err
	}
	res := p.callExpert(ctx, r, e, llm.Request{
		Content:       content,
		Images:        r.images(maxExpertImages),
		ImageMIMEType: r.mimeType,
	})
	r.setResult(res)
	return r.append(ctx, expertMessage(e, res), map[string]any{e.Key: res})
}

// callExpert performs one expert AI call and folds the outcome into an ExpertResult.
func (p *Processor) callExpert(ctx context.Context, r *run, e Expert, req llm.Request) types.ExpertResult {
	res := types.ExpertResult{Key: e.Key}
	system, err := prompts.System(e.Stage)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	schema, err := schemas.Get(e.Schema)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Label = e.Key
	req.SystemInstruction = system
	req.Schema = schema
	req.Tier = e.Tier

	started := time.Now()
	data, err := p.deps.AI.Call(ctx, p.opts.Credentials, req)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		res.Error = err.Error()
		r.log.Warn("expert failed", zap.String("expert", e.Key), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
	} else {
		res.Data = data
		r.log.Info("expert complete", zap.String("expert", e.Key), zap.Duration("elapsed", time.Since(started)))
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ExpertCalls.WithLabelValues(e.Stage, outcome).Inc()
	}
	return res
}

func expertMessage(e Expert, res types.ExpertResult) string {
	if res.Error != "" {
		return fmt.Sprintf("%s failed: %s", e.Name, observability.Truncate(res.Error, maxFailureDetail))
	}
	return e.Name + " complete"
}

// expertContent renders the shared content prompt for the standard experts.
func (p *Processor) expertContent(r *run) string {
	data := map[string]string{
		"Target":      describeTarget(r),
		"LiveText":    joinText(r.targets),
		"Performance": marshalOrEmpty(r.performanceData),
	}
	if len(r.targets) > 0 {
		t := r.targets[0]
		data["Animation"] = marshalOrEmpty(t.animationData)
		a11y := map[string]any{}
		if t.accessibilityData != nil {
			a11y["summary"] = t.accessibilityData
		}
		if len(t.axeViolations) > 0 {
			a11y["violations"] = t.axeViolations
		}
		data["Accessibility"] = marshalOrEmpty(a11y)
	}
	for k, v := range data {
		if v == "" {
			delete(data, k)
		}
	}
	content, err := prompts.Content("expert", data)
	if err != nil {
		r.log.Warn("expert content template missing", zap.Error(err))
		return data["LiveText"]
	}
	return content
}

func describeTarget(r *run) string {
	if r.primaryURL == "" {
		return "uploaded screenshot"
	}
	urls := make([]string, 0, len(r.targets))
	for _, t := range r.targets {
		urls = append(urls, t.url)
	}
	return strings.Join(urls, ", ")
}

func joinText(targets []target) string {
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.liveText == "" {
			continue
		}
		text := observability.Truncate(t.liveText, maxPromptText)
		if len(targets) > 1 {
			text = t.url + ":\n" + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

// marshalOrEmpty returns "" for empty values so the template renders n/a.
func marshalOrEmpty(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// rerank asks for the five most important cross-cutting issues when the strategy
// analysis succeeded. Failures are logged and swallowed.
func (p *Processor) rerank(ctx context.Context, r *run) error {
	strategy, ok := r.result(types.KeyStrategyExpert)
	if !ok || strategy.Error != "" || strategy.Data == nil {
		r.log.Info("skipping contextual re-rank, strategy unavailable")
		return nil
	}
	defer p.deps.Metrics.ObserveStage("contextual", time.Now())

	issues := map[string]any{}
	for _, e := range issueExperts {
		res, ok := r.result(e.Key)
		if !ok || res.Data == nil {
			continue
		}
		if ci, ok := res.Data["criticalIssues"]; ok {
			issues[e.Name] = ci
		}
	}
	if len(issues) == 0 {
		r.log.Info("skipping contextual re-rank, no critical issues")
		return nil
	}

	if err := r.append(ctx, "Running contextual re-rank", nil); err != nil {
		return err
	}
	content, err := prompts.Content("contextual", map[string]string{
		"Strategy": marshalOrEmpty(strategy.Data),
		"Issues":   marshalOrEmpty(issues),
	})
	if err != nil {
		r.log.Warn("contextual template missing", zap.Error(err))
		return nil
	}
	system, err := prompts.System("contextual")
	if err != nil {
		r.log.Warn("contextual template missing", zap.Error(err))
		return nil
	}

	data, err := p.deps.AI.Call(ctx, p.opts.Credentials, llm.Request{
		Label:             types.KeyTop5Contextual,
		SystemInstruction: system,
		Content:           content,
		Schema:            schemas.MustGet(schemas.Top5),
		Tier:              llm.TierStandard,
	})
	if err != nil {
		r.log.Warn("contextual re-rank failed", zap.Error(err))
		if p.deps.Metrics != nil {
			p.deps.Metrics.ExpertCalls.WithLabelValues("contextual", "failure").Inc()
		}
		return r.append(ctx, "Contextual re-rank skipped", nil)
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ExpertCalls.WithLabelValues("contextual", "success").Inc()
	}
	r.mu.Lock()
	r.top5 = data
	r.mu.Unlock()
	return r.append(ctx, "Contextual analysis complete", map[string]any{types.KeyTop5Contextual: data})
}

// runCompetitorExpert makes the single competitor comparison call.
func (p *Processor) runCompetitorExpert(ctx context.Context, r *run) error {
	defer p.deps.Metrics.ObserveStage("experts", time.Now())

	e := CompetitorExpert
	if err := r.append(ctx, "Running competitor analysis", nil); err != nil {
		return err
	}
	primary := r.targets[0]
	content, err := prompts.Content("competitor", map[string]string{
		"PrimaryURL":     primary.url,
		"PrimaryText":    observability.Truncate(primary.liveText, maxPromptText),
		"CompetitorURL":  r.competitor.url,
		"CompetitorText": observability.Truncate(r.competitor.liveText, maxPromptText),
	})
	if err != nil {
		return fmt.Errorf("competitor prompt: %w", err)
	}
	res := p.callExpert(ctx, r, e, llm.Request{
		Content:       content,
		Images:        r.images(2),
		ImageMIMEType: r.mimeType,
	})
	r.setResult(res)
	return r.append(ctx, expertMessage(e, res), map[string]any{e.Key: res})
}
