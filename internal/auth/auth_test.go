package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "https://auth.example.test"}

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "user-123",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeBackupsWrite, ScopeBackupsRead},
	}
}

func TestParseValidToken(t *testing.T) {
	claims, err := Parse(sign(t, testConfig.Secret, validClaims()), testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-123", claims.Subject)
	require.True(t, claims.HasScope(ScopeBackupsWrite))
	require.True(t, claims.HasScope(ScopeBackupsRead))
	require.False(t, claims.HasScope("admin"))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	raw := validClaims()
	raw["scopes"] = "backups:read  backups:write"

	claims, err := Parse(sign(t, testConfig.Secret, raw), testConfig)
	require.NoError(t, err)
	require.Len(t, claims.Scopes, 2)
}

func TestParseRejects(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	noSubject := validClaims()
	delete(noSubject, "sub")
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone-else"
	noExpiry := validClaims()
	delete(noExpiry, "exp")

	cases := map[string]string{
		"expired":      sign(t, testConfig.Secret, expired),
		"no subject":   sign(t, testConfig.Secret, noSubject),
		"wrong issuer": sign(t, testConfig.Secret, wrongIssuer),
		"no expiry":    sign(t, testConfig.Secret, noExpiry),
		"wrong secret": sign(t, "other", validClaims()),
		"garbage":      "not.a.token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(token, testConfig)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err := Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestHasScopeOnNilClaims(t *testing.T) {
	var claims *Claims
	require.False(t, claims.HasScope(ScopeBackupsRead))
}

func TestMiddleware(t *testing.T) {
	var seen *Claims
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("accepts bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/imports/abc", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, testConfig.Secret, validClaims()))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "user-123", seen.Subject)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/imports", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "unauthorized", body["type"])
		require.Equal(t, ErrMissingToken.Error(), body["detail"])
	})

	t.Run("rejects other schemes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/imports", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("skips health and metrics", func(t *testing.T) {
		for _, path := range []string{"/healthz", "/metrics"} {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusNoContent, rec.Code, path)
		}
	})
}

func TestRequireScope(t *testing.T) {
	handler := RequireScope(ScopeBackupsWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reader := &Claims{Subject: "u", Scopes: map[string]struct{}{ScopeBackupsRead: {}}}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/imports", nil).WithContext(WithClaims(t.Context(), reader)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	writer := &Claims{Subject: "u", Scopes: map[string]struct{}{ScopeBackupsWrite: {}}}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/imports", nil).WithContext(WithClaims(t.Context(), writer)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/imports", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireScopeAcceptsAnyListed(t *testing.T) {
	handler := RequireScope(ScopeBackupsRead, ScopeBackupsWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	writer := &Claims{Subject: "u", Scopes: map[string]struct{}{ScopeBackupsWrite: {}}}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/imports/j", nil).WithContext(WithClaims(t.Context(), writer)))
	require.Equal(t, http.StatusOK, rec.Code)

	none := &Claims{Subject: "u"}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/imports/j", nil).WithContext(WithClaims(t.Context(), none)))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "backups:read or backups:write")
}
