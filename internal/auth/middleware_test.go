package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planvista/pfa-server/internal/config"
)

const testKey = "test-signing-key"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testKey))
	require.NoError(t, err)
	return signed
}

func newMiddleware(t *testing.T, issuer string) func(http.Handler) http.Handler {
	t.Helper()
	t.Setenv("PFA_JWT_SIGNING_KEY", testKey)
	mw, err := Middleware(&config.AuthConfig{Issuer: issuer})
	require.NoError(t, err)
	return mw
}

func identityHandler(t *testing.T, captured **Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := FromContext(r.Context())
		require.True(t, ok)
		*captured = identity
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	mw := newMiddleware(t, "")

	token := signToken(t, jwt.MapClaims{
		"sub":   "user-1",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"orgs":  []any{"org-a"},
		"perms": []any{PermRead, PermSync},
	})

	var identity *Identity
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	mw(identityHandler(t, &identity)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", identity.Subject)
	assert.True(t, identity.AllowsOrg("org-a"))
	assert.False(t, identity.AllowsOrg("org-b"))
	assert.True(t, identity.HasPermission(PermSync))
	assert.False(t, identity.HasPermission(PermEdit))
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	mw := newMiddleware(t, "pfa-server")

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{
			name: "expired",
			token: signToken(t, jwt.MapClaims{
				"sub": "user-1",
				"iss": "pfa-server",
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
		},
		{
			name: "missing expiry",
			token: signToken(t, jwt.MapClaims{
				"sub": "user-1",
				"iss": "pfa-server",
			}),
		},
		{
			name: "wrong issuer",
			token: signToken(t, jwt.MapClaims{
				"sub": "user-1",
				"iss": "someone-else",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			})).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequirePermission(t *testing.T) {
	mw := newMiddleware(t, "")
	guarded := mw(RequirePermission(PermSync)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	t.Run("allowed", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub":   "user-1",
			"exp":   time.Now().Add(time.Hour).Unix(),
			"perms": []any{PermSync},
		})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("forbidden", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub":   "user-1",
			"exp":   time.Now().Add(time.Hour).Unix(),
			"perms": []any{PermRead},
		})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestMiddleware_Passthrough(t *testing.T) {
	t.Setenv("PFA_JWT_SIGNING_KEY", "")
	mw, err := Middleware(&config.AuthConfig{})
	require.NoError(t, err)

	var identity *Identity
	rec := httptest.NewRecorder()
	mw(identityHandler(t, &identity)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, identity.AllowsOrg("any-org"))
	assert.True(t, identity.HasPermission(PermEdit))
}
