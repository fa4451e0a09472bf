package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonathan/ux-auditor/internal/config"
	"github.com/jonathan/ux-auditor/internal/server/middleware"
)

// widgetIssuer is the iss claim of every widget key.
const widgetIssuer = "ux-auditor"

// WidgetClaims are the claims of a site-scoped widget key.
type WidgetClaims struct {
	SiteID         string   `json:"site_id"`
	AllowedOrigins []string `json:"allowed_origins"`
	jwt.RegisteredClaims
}

// GetSiteID implements middleware.SiteClaims.
func (c *WidgetClaims) GetSiteID() string {
	return c.SiteID
}

// GetAllowedOrigins implements middleware.SiteClaims.
func (c *WidgetClaims) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// AsTokenValidator returns a TokenValidator adapter for this WidgetKeyService.
// This allows the service to be used with middleware without creating import cycles.
func (s *WidgetKeyService) AsTokenValidator() middleware.TokenValidator {
	return &widgetKeyValidator{service: s}
}

type widgetKeyValidator struct {
	service *WidgetKeyService
}

func (v *widgetKeyValidator) ValidateToken(tokenString string) (middleware.SiteClaims, error) {
	claims, err := v.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// WidgetKeyService issues and validates HS256 widget keys.
type WidgetKeyService struct {
	config config.WidgetConfig
	now    func() time.Time
}

// NewWidgetKeyService creates a widget key service with the given configuration.
func NewWidgetKeyService(cfg config.WidgetConfig) *WidgetKeyService {
	return &WidgetKeyService{config: cfg, now: time.Now}
}

// NormalizeOrigin reduces an origin or URL to scheme://host[:port].
func NormalizeOrigin(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", origin)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// GenerateKey issues a key for siteID that is accepted from the given origins.
// A zero ttl uses the configured key TTL.
func (s *WidgetKeyService) GenerateKey(siteID string, origins []string, ttl time.Duration) (string, error) {
	if s.config.Secret == "" {
		return "", errors.New("widget secret is not configured")
	}
	if siteID == "" {
		return "", errors.New("site id is required")
	}
	if len(origins) == 0 {
		return "", errors.New("at least one allowed origin is required")
	}
	normalized := make([]string, 0, len(origins))
	for _, o := range origins {
		n, err := NormalizeOrigin(o)
		if err != nil {
			return "", err
		}
		normalized = append(normalized, n)
	}
	if ttl <= 0 {
		ttl = s.config.KeyTTL
	}

	now := s.now()
	claims := &WidgetClaims{
		SiteID:         siteID,
		AllowedOrigins: normalized,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    widgetIssuer,
			Subject:   siteID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign widget key: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a widget key and returns its claims.
func (s *WidgetKeyService) ValidateToken(tokenString string) (*WidgetClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token string is empty")
	}

	claims := &WidgetClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithIssuer(widgetIssuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("invalid key signature: %w", err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("key expired: %w", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("malformed key: %w", err)
		default:
			return nil, fmt.Errorf("failed to parse key: %w", err)
		}
	}
	if !token.Valid {
		return nil, fmt.Errorf("key is not valid")
	}
	if claims.SiteID == "" {
		return nil, fmt.Errorf("key has no site id")
	}
	return claims, nil
}
