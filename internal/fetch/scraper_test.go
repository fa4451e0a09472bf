package fetch

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestViewportFor(t *testing.T) {
	assert.Equal(t, Viewport{Width: 1440, Height: 900, Scale: 1}, ViewportFor(false))
	assert.Equal(t, int64(390), ViewportFor(true).Width)
	assert.Equal(t, int64(844), ViewportFor(true).Height)
}

func TestDecodeSummaries(t *testing.T) {
	assert.Equal(t, map[string]any{"lang": "en"}, decodeSummary(`{"lang":"en"}`))
	assert.Nil(t, decodeSummary(""))
	assert.Nil(t, decodeSummary("not json"))

	v := decodeViolations(`[{"id":"image-alt","nodes":3}]`)
	require.Len(t, v, 1)
	assert.Equal(t, "image-alt", v[0]["id"])
	assert.Nil(t, decodeViolations("{}"))
}

func TestNewChromeScraper_Defaults(t *testing.T) {
	s := NewChromeScraper(nil, 0)
	assert.Equal(t, DefaultNavigationTimeout, s.timeout)
}

func TestScreenshotsFromUpload(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n" + "rest-of-image")
	shots, mime, err := ScreenshotsFromUpload([]string{base64.StdEncoding.EncodeToString(png)})
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	require.Len(t, shots, 1)
	assert.Equal(t, "upload", shots[0].Source)
	assert.False(t, shots[0].IsMobile)

	_, _, err = ScreenshotsFromUpload([]string{"%%%"})
	assert.Error(t, err)
	_, _, err = ScreenshotsFromUpload(nil)
	assert.Error(t, err)
}

func TestPageSpeedChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://example.com", r.URL.Query().Get("url"))
		assert.Equal(t, "mobile", r.URL.Query().Get("strategy"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"lighthouseResult": {
				"categories": {"performance": {"score": 0.87}},
				"audits": {
					"largest-contentful-paint": {"title": "Largest Contentful Paint", "displayValue": "2.1 s", "numericValue": 2100}
				}
			}
		}`))
	}))
	defer srv.Close()

	c, err := NewPageSpeedChecker(context.Background(), "", nil, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	res := c.Check(context.Background(), "https://example.com")
	require.Empty(t, res.Error)
	assert.Equal(t, 87.0, res.Data["performanceScore"])
	metrics := res.Data["metrics"].(map[string]any)
	lcp := metrics["largest-contentful-paint"].(map[string]any)
	assert.Equal(t, "2.1 s", lcp["displayValue"])
}

func TestPageSpeedChecker_FailureIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"Lighthouse returned error"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewPageSpeedChecker(context.Background(), "", nil, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	res := c.Check(context.Background(), "https://example.com")
	assert.Nil(t, res.Data)
	assert.Contains(t, res.Error, "performance check failed")
}
