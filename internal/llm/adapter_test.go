package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/retry"
	"github.com/jonathan/ux-auditor/internal/schemas"
)

type call struct {
	key    string
	images int
}

// scriptedGenerator returns errs in order, then reply.
type scriptedGenerator struct {
	mu    sync.Mutex
	errs  []error
	reply string
	calls []call
}

func (g *scriptedGenerator) Generate(_ context.Context, apiKey string, p Payload) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{key: apiKey, images: len(p.Images)})
	if len(g.calls) <= len(g.errs) {
		return "", g.errs[len(g.calls)-1]
	}
	return g.reply, nil
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.NewTimer = retry.Immediate
	return p
}

func rateLimited(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = errors.New("googleapi: Error 429: Resource has been exhausted")
	}
	return errs
}

func TestCredentialForAttempt(t *testing.T) {
	assert.Equal(t, 0, CredentialForAttempt(2, 1, 6))
	assert.Equal(t, 0, CredentialForAttempt(2, 5, 6))
	assert.Equal(t, 1, CredentialForAttempt(2, 6, 6))
	assert.Equal(t, 1, CredentialForAttempt(2, 10, 6))
	assert.Equal(t, 0, CredentialForAttempt(1, 10, 6))
}

func TestAdapter_FailoverAndImageDrop(t *testing.T) {
	gen := &scriptedGenerator{errs: rateLimited(6), reply: `{"score": 80}`}
	metrics := observability.NewMetrics(nil)
	a := NewAdapter(gen, testPolicy(), nil, metrics)

	obj, err := a.Call(context.Background(), []string{"key-a", "key-b"}, Request{
		Label:   "UX Audit expert",
		Content: "analyze",
		Images:  [][]byte{[]byte("png1"), []byte("png2")},
	})
	require.NoError(t, err)
	assert.Equal(t, 80.0, obj["score"])

	require.Len(t, gen.calls, 7)
	for i, c := range gen.calls {
		attempt := i + 1
		if attempt < 6 {
			assert.Equal(t, "key-a", c.key, "attempt %d", attempt)
			assert.Equal(t, 2, c.images, "attempt %d", attempt)
		} else {
			assert.Equal(t, "key-b", c.key, "attempt %d", attempt)
			assert.Equal(t, 0, c.images, "attempt %d", attempt)
		}
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.AIAttempts.WithLabelValues("primary", "retriable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AIAttempts.WithLabelValues("secondary", "retriable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AIAttempts.WithLabelValues("secondary", "success")))
}

func TestAdapter_IndependentThresholds(t *testing.T) {
	policy := testPolicy()
	policy.CredentialSwitchAttempt = 3
	policy.ImageDropAttempt = 5
	gen := &scriptedGenerator{errs: rateLimited(5), reply: `{"ok": true}`}
	a := NewAdapter(gen, policy, nil, nil)

	_, err := a.Call(context.Background(), []string{"a", "b"}, Request{Images: [][]byte{[]byte("x")}})
	require.NoError(t, err)
	require.Len(t, gen.calls, 6)
	assert.Equal(t, call{key: "a", images: 1}, gen.calls[1])
	assert.Equal(t, call{key: "b", images: 1}, gen.calls[3])
	assert.Equal(t, call{key: "b", images: 0}, gen.calls[4])
}

func TestAdapter_SingleCredentialNeverSwitches(t *testing.T) {
	gen := &scriptedGenerator{errs: rateLimited(7), reply: `{"ok": true}`}
	a := NewAdapter(gen, testPolicy(), nil, nil)

	_, err := a.Call(context.Background(), []string{"only"}, Request{})
	require.NoError(t, err)
	for _, c := range gen.calls {
		assert.Equal(t, "only", c.key)
	}
}

func TestAdapter_NonRetriableFailsFast(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("invalid argument: bad request")}}
	a := NewAdapter(gen, testPolicy(), nil, nil)

	_, err := a.Call(context.Background(), []string{"a", "b"}, Request{Label: "Visual Audit expert"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Visual Audit expert")
	assert.Len(t, gen.calls, 1)
}

func TestAdapter_Exhaustion(t *testing.T) {
	gen := &scriptedGenerator{errs: rateLimited(20)}
	a := NewAdapter(gen, testPolicy(), nil, nil)

	_, err := a.Call(context.Background(), []string{"a", "b"}, Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Len(t, gen.calls, 10)
}

func TestAdapter_ParseFailureNotRetried(t *testing.T) {
	gen := &scriptedGenerator{reply: "null"}
	a := NewAdapter(gen, testPolicy(), nil, nil)

	_, err := a.Call(context.Background(), []string{"a"}, Request{})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Len(t, gen.calls, 1)
}

func TestAdapter_SchemaViolation(t *testing.T) {
	gen := &scriptedGenerator{reply: `{"summary": "missing score"}`}
	a := NewAdapter(gen, testPolicy(), nil, nil)

	_, err := a.Call(context.Background(), []string{"a"}, Request{Schema: schemas.MustGet(schemas.UX)})
	var verr *schemas.ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestAdapter_NoCredentials(t *testing.T) {
	a := NewAdapter(&scriptedGenerator{}, testPolicy(), nil, nil)
	_, err := a.Call(context.Background(), nil, Request{})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestToGenaiSchema(t *testing.T) {
	s, err := toGenaiSchema(schemas.MustGet(schemas.UX))
	require.NoError(t, err)
	require.Contains(t, s.Properties, "criticalIssues")
	issues := s.Properties["criticalIssues"]
	require.NotNil(t, issues.Items)
	assert.Equal(t, []string{"critical", "high", "medium", "low"}, issues.Items.Properties["severity"].Enum)
	assert.Contains(t, s.Required, "score")
}
