package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/retry"
	"github.com/jonathan/ux-auditor/internal/schemas"
)

// ErrNoCredentials is returned when Call is given no API keys.
var ErrNoCredentials = errors.New("no AI credentials configured")

// Policy controls attempts, credential failover and payload shaping.
// The two thresholds are independent; attempts are numbered from 1.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// CredentialSwitchAttempt is the first attempt that uses the secondary credential.
	CredentialSwitchAttempt int
	// ImageDropAttempt is the first attempt that sends text only.
	ImageDropAttempt int
	// NewTimer builds the retry wait timer for one call (tests).
	NewTimer func() backoff.Timer
}

// DefaultPolicy returns 10 attempts with a 2s base, switching credentials and
// dropping images from attempt 6.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:             retry.DefaultMaxAttempts,
		BaseDelay:               retry.DefaultBaseDelay,
		MaxDelay:                retry.DefaultMaxDelay,
		CredentialSwitchAttempt: 6,
		ImageDropAttempt:        6,
	}
}

// Request is one logical AI call.
type Request struct {
	// Label names the call in logs and metrics, e.g. the expert key.
	Label             string
	SystemInstruction string
	Content           string
	Schema            json.RawMessage
	Images            [][]byte
	ImageMIMEType     string
	Tier              ModelTier
}

// Adapter turns a Request into a parsed JSON object, hiding retries and failover.
type Adapter struct {
	gen     Generator
	policy  Policy
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAdapter creates an adapter over gen. logger and metrics may be nil.
func NewAdapter(gen Generator, policy Policy, logger *zap.Logger, metrics *observability.Metrics) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{gen: gen, policy: policy, logger: logger, metrics: metrics}
}

// CredentialForAttempt returns the index of the credential for attempt.
func CredentialForAttempt(numCredentials, attempt, switchAt int) int {
	if numCredentials > 1 && switchAt > 0 && attempt >= switchAt {
		return 1
	}
	return 0
}

// ShapePayload builds the provider payload for attempt.
func (a *Adapter) ShapePayload(req Request, attempt int) Payload {
	p := Payload{
		SystemInstruction: req.SystemInstruction,
		Content:           req.Content,
		Schema:            req.Schema,
		ImageMIMEType:     req.ImageMIMEType,
		Tier:              req.Tier,
	}
	if a.policy.ImageDropAttempt <= 0 || attempt < a.policy.ImageDropAttempt {
		p.Images = req.Images
	}
	return p
}

// Call performs the request with retries, returning the parsed object.
// Parse and schema failures are not retried.
func (a *Adapter) Call(ctx context.Context, credentials []string, req Request) (map[string]any, error) {
	if len(credentials) == 0 || credentials[0] == "" {
		return nil, ErrNoCredentials
	}
	label := req.Label
	if label == "" {
		label = "ai call"
	}
	log := a.logger.With(zap.String("label", label))

	opts := retry.Options{
		MaxAttempts: a.policy.MaxAttempts,
		BaseDelay:   a.policy.BaseDelay,
		MaxDelay:    a.policy.MaxDelay,
		Label:       label,
		Logger:      a.logger,
	}
	if a.policy.NewTimer != nil {
		opts.Timer = a.policy.NewTimer()
	}

	raw, err := retry.Do(ctx, opts, func(ctx context.Context, attempt int) (string, error) {
		idx := CredentialForAttempt(len(credentials), attempt, a.policy.CredentialSwitchAttempt)
		slot := "primary"
		if idx == 1 {
			slot = "secondary"
		}
		payload := a.ShapePayload(req, attempt)
		if attempt > 1 {
			log.Debug("retrying AI call",
				zap.Int("attempt", attempt),
				zap.String("credential", slot),
				zap.Int("images", len(payload.Images)))
		}

		text, err := a.gen.Generate(ctx, credentials[idx], payload)
		a.recordAttempt(slot, err)
		return text, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	obj, err := ParseResponse(raw)
	if err != nil {
		log.Warn("unparseable AI response", zap.Error(err))
		return nil, err
	}

	if len(req.Schema) > 0 {
		if err := schemas.ValidateDocument(req.Schema, obj); err != nil {
			return nil, fmt.Errorf("%s: response failed schema validation: %w", label, err)
		}
	}
	return obj, nil
}

func (a *Adapter) recordAttempt(slot string, err error) {
	if a.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case retry.IsRetriable(err):
		outcome = "retriable"
	default:
		outcome = "fatal"
	}
	a.metrics.AIAttempts.WithLabelValues(slot, outcome).Inc()
}
