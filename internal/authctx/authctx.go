// Package authctx is a boundary-only claim verification shim: it validates
// a bearer JWT issued by an external identity provider (out of scope for
// this module, per spec.md §1) and exposes the user_id/tier/scopes it
// carries to the rest of the process via context.Context. It never issues
// or refreshes tokens — only verifies and unpacks.
package authctx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"pulsecore/internal/pulse"
)

// Claims is what the rest of the process reads out of a verified token.
type Claims struct {
	UserID string
	Tier   pulse.Tier
	Scopes []string
}

type claimsKey struct{}

// WithClaims returns a new context carrying claims.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims carried by ctx, and whether any were set.
func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// Config controls signature verification.
type Config struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Verifier validates bearer tokens against Config.
type Verifier struct {
	cfg    Config
	secret []byte
}

func NewVerifier(cfg Config) *Verifier {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Verifier{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Verify parses and validates tokenString, returning the Claims it carries.
func (v *Verifier) Verify(tokenString string) (Claims, error) {
	if len(v.secret) == 0 {
		return Claims{}, errors.New("authctx: no verification secret configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("authctx: unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.cfg.ClockSkew))
	if err != nil {
		return Claims{}, err
	}
	if !token.Valid {
		return Claims{}, errors.New("authctx: token invalid")
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("authctx: claims not a map")
	}
	if err := validateIssuerAudience(mapClaims, v.cfg.Issuer, v.cfg.Audience); err != nil {
		return Claims{}, err
	}
	return Claims{
		UserID: stringClaim(mapClaims, "sub"),
		Tier:   pulse.Tier(stringClaim(mapClaims, "tier")),
		Scopes: scopeClaims(mapClaims),
	}, nil
}

// Middleware verifies the Authorization bearer token on every request and
// attaches Claims to the request context, requiring each of requiredScopes
// be present. When cfg.Enabled is false the middleware is a no-op passthrough,
// matching the teacher's kill-switch convention for boundary middleware.
func (v *Verifier) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !hasScopes(claims.Scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func validateIssuerAudience(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if v, ok := claims["iss"].(string); !ok || v != issuer {
			return errors.New("authctx: issuer mismatch")
		}
	}
	if audience != "" {
		switch v := claims["aud"].(type) {
		case string:
			if v != audience {
				return errors.New("authctx: audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range v {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("authctx: audience mismatch")
			}
		}
	}
	return nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

func scopeClaims(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		return strings.Fields(trimmed)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
