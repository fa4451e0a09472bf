// Package middleware provides HTTP middleware for widget key authentication.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// siteIDKey is the context key for storing the authenticated widget site id.
const siteIDKey ContextKey = "siteID"

// TokenValidator is an interface for validating widget keys.
type TokenValidator interface {
	ValidateToken(tokenString string) (SiteClaims, error)
}

// SiteClaims exposes the authorization data of a widget key.
type SiteClaims interface {
	GetSiteID() string
	GetAllowedOrigins() []string
}

// WidgetAuth validates the bearer widget key and requires the request Origin to be
// one the key allows. The site id is stored in the request context.
func WidgetAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing widget key")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid widget key")
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				writeError(w, http.StatusForbidden, "origin header is required")
				return
			}
			if !originAllowed(origin, claims.GetAllowedOrigins()) {
				writeError(w, http.StatusForbidden, "origin not allowed: "+origin)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			ctx := context.WithValue(r.Context(), siteIDKey, claims.GetSiteID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken parses "Bearer <token>", case-insensitive on the scheme.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func originAllowed(origin string, allowed []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	normalized := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimRight(a, "/"), normalized) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetSiteID returns the widget site id from the request context.
func GetSiteID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(siteIDKey).(string)
	return id, ok && id != ""
}

// SiteIDKey returns the context key for the site id (for testing purposes).
func SiteIDKey() ContextKey {
	return siteIDKey
}
