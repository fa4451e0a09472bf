package server

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ux-auditor/internal/config"
)

const testWidgetSecret = "test-secret-key-for-widget-signing"

func setupTestWidgetService(_ *testing.T) *WidgetKeyService {
	return NewWidgetKeyService(config.WidgetConfig{Secret: testWidgetSecret, KeyTTL: 24 * time.Hour})
}

func TestWidgetKeyService_GenerateAndValidate(t *testing.T) {
	service := setupTestWidgetService(t)

	key, err := service.GenerateKey("site-42", []string{"https://Shop.Example.com/landing"}, 0)
	require.NoError(t, err)
	assert.Len(t, strings.Split(key, "."), 3, "JWT should have 3 parts separated by dots")

	claims, err := service.ValidateToken(key)
	require.NoError(t, err)
	assert.Equal(t, "site-42", claims.SiteID)
	assert.Equal(t, []string{"https://shop.example.com"}, claims.AllowedOrigins)
	assert.Equal(t, widgetIssuer, claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestWidgetKeyService_GenerateKeyErrors(t *testing.T) {
	service := setupTestWidgetService(t)

	_, err := service.GenerateKey("", []string{"https://a.example.com"}, 0)
	assert.Error(t, err)
	_, err = service.GenerateKey("site", nil, 0)
	assert.Error(t, err)
	_, err = service.GenerateKey("site", []string{"not-an-origin"}, 0)
	assert.Error(t, err)

	disabled := NewWidgetKeyService(config.WidgetConfig{})
	_, err = disabled.GenerateKey("site", []string{"https://a.example.com"}, 0)
	assert.Error(t, err)
}

func TestWidgetKeyService_ExpiredKey(t *testing.T) {
	service := setupTestWidgetService(t)
	key, err := service.GenerateKey("site", []string{"https://a.example.com"}, time.Hour)
	require.NoError(t, err)

	service.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = service.ValidateToken(key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key expired")
}

func TestWidgetKeyService_WrongSecret(t *testing.T) {
	other := NewWidgetKeyService(config.WidgetConfig{Secret: "another-secret-entirely-0000", KeyTTL: time.Hour})
	key, err := other.GenerateKey("site", []string{"https://a.example.com"}, 0)
	require.NoError(t, err)

	_, err = setupTestWidgetService(t).ValidateToken(key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key signature")
}

func TestWidgetKeyService_RejectsOtherAlgorithms(t *testing.T) {
	claims := &WidgetClaims{
		SiteID: "site",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    widgetIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	key, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = setupTestWidgetService(t).ValidateToken(key)
	assert.Error(t, err)
}

func TestWidgetKeyService_EmptyAndMalformed(t *testing.T) {
	service := setupTestWidgetService(t)
	_, err := service.ValidateToken("")
	assert.Error(t, err)

	_, err = service.ValidateToken("not.a.jwt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed key")
}

func TestWidgetKeyService_AsTokenValidator(t *testing.T) {
	service := setupTestWidgetService(t)
	key, err := service.GenerateKey("site-7", []string{"https://a.example.com"}, 0)
	require.NoError(t, err)

	claims, err := service.AsTokenValidator().ValidateToken(key)
	require.NoError(t, err)
	assert.Equal(t, "site-7", claims.GetSiteID())
	assert.Equal(t, []string{"https://a.example.com"}, claims.GetAllowedOrigins())
}

func TestNormalizeOrigin(t *testing.T) {
	got, err := NormalizeOrigin("HTTPS://Example.com:8443/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8443", got)

	_, err = NormalizeOrigin("example.com")
	assert.Error(t, err)
}
