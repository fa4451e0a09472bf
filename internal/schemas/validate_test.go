package schemas

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSchemasAreValidJSON(t *testing.T) {
	for _, name := range []string{UX, Product, Visual, Strategy, Accessibility, Competitor, Top5} {
		t.Run(name, func(t *testing.T) {
			raw, err := Get(name)
			require.NoError(t, err)
			var m map[string]any
			require.NoError(t, json.Unmarshal(raw, &m))
			assert.Equal(t, "object", m["type"])
		})
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("nope")
	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Panics(t, func() { MustGet("nope") })
}

func TestValidateDocument(t *testing.T) {
	schema := MustGet(UX)

	valid := map[string]any{
		"score":   72.0,
		"summary": "Clear layout, weak calls to action",
		"criticalIssues": []any{
			map[string]any{"title": "Hidden CTA", "severity": "high"},
		},
	}
	assert.NoError(t, ValidateDocument(schema, valid))

	invalid := map[string]any{
		"score": 140.0,
		"criticalIssues": []any{
			map[string]any{"title": "Hidden CTA", "severity": "urgent"},
		},
	}
	err := ValidateDocument(schema, invalid)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.GreaterOrEqual(t, len(verr.Errors), 3)
	assert.Contains(t, verr.Error(), "validation failed")
}

func TestValidateJSONString(t *testing.T) {
	schema := `{"type":"object","required":["issues"]}`
	assert.NoError(t, ValidateJSONString(schema, `{"issues":[]}`))

	err := ValidateJSONString(schema, `{}`)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "(root)", verr.Errors[0].Field)

	err = ValidateJSONString(`{"type":12}`, `{}`)
	var loadErr *SchemaLoadError
	assert.True(t, errors.As(err, &loadErr))
}
