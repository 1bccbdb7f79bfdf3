// Package auth provides the JWT bearer middleware that scopes requests to
// organizations and permission flags.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/planvista/pfa-server/internal/config"
)

// Permission flags carried in the token's perms claim.
const (
	PermRead = "pfa:read"
	PermEdit = "pfa:edit"
	PermSync = "sync:run"

	orgScopeAll = "*"
)

// Identity is the authenticated caller extracted from the token.
type Identity struct {
	Subject string
	Orgs    []string
	Perms   []string
}

// AllowsOrg reports whether the identity may act on the given organization.
func (i *Identity) AllowsOrg(orgID string) bool {
	return slices.Contains(i.Orgs, orgScopeAll) || slices.Contains(i.Orgs, orgID)
}

// HasPermission reports whether the identity carries a permission flag.
func (i *Identity) HasPermission(perm string) bool {
	return slices.Contains(i.Perms, perm)
}

type contextKey struct{}

// FromContext returns the request identity, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	return identity, ok
}

// Middleware validates bearer tokens and attaches the caller's Identity to
// the request context. When no signing key is configured the middleware is a
// passthrough granting every permission, which is only suitable for local
// development.
func Middleware(cfg *config.AuthConfig) (func(http.Handler) http.Handler, error) {
	keyBytes, err := cfg.GetSigningKey()
	if err != nil {
		if cfg.SigningKeyFile != "" {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		slog.Warn("JWT signing key not configured, requests are unauthenticated")
		return passthrough, nil
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
				return keyBytes, nil
			})
			if err != nil || !parsed.Valid {
				unauthorized(w, "invalid token")
				return
			}
			if cfg.Issuer != "" {
				issuer, err := claims.GetIssuer()
				if err != nil || issuer != cfg.Issuer {
					unauthorized(w, "invalid token issuer")
					return
				}
			}

			identity := identityFromClaims(claims)
			ctx := context.WithValue(r.Context(), contextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// RequirePermission rejects requests whose identity lacks the permission.
// It must run after Middleware.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := FromContext(r.Context())
			if !ok {
				unauthorized(w, "not authenticated")
				return
			}
			if !identity.HasPermission(perm) {
				forbidden(w, fmt.Sprintf("missing permission %s", perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identityFromClaims(claims jwt.MapClaims) *Identity {
	identity := &Identity{}
	if sub, err := claims.GetSubject(); err == nil {
		identity.Subject = sub
	}
	identity.Orgs = stringClaim(claims, "orgs")
	identity.Perms = stringClaim(claims, "perms")
	return identity
}

func stringClaim(claims jwt.MapClaims, name string) []string {
	raw, ok := claims[name].([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			values = append(values, s)
		}
	}
	return values
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func passthrough(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := &Identity{
			Subject: "anonymous",
			Orgs:    []string{orgScopeAll},
			Perms:   []string{PermRead, PermEdit, PermSync},
		}
		ctx := context.WithValue(r.Context(), contextKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusUnauthorized, message)
}

func forbidden(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusForbidden, message)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
