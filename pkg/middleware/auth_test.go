package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func serve(secret, authHeader string) (*httptest.ResponseRecorder, string, string) {
	var subject, role string
	handler := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = GetSubjectFromContext(r.Context())
		role = GetRoleFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/comptes", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, subject, role
}

func TestAuthMiddlewareDisabledWithoutSecret(t *testing.T) {
	rec, subject, _ := serve("", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, subject)
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	token := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub":  "admin-1",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	rec, subject, role := serve(testSecret, "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "admin-1", subject)
	assert.Equal(t, "admin", role)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	expired := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "admin-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "admin-1"})
	noSubject := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"role": "admin"})
	hs512 := signed(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "admin-1"})

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"empty token":    "Bearer ",
		"garbage":        "Bearer not.a.jwt",
		"expired":        "Bearer " + expired,
		"wrong key":      "Bearer " + wrongKey,
		"no subject":     "Bearer " + noSubject,
		"wrong alg":      "Bearer " + hs512,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			rec, _, _ := serve(testSecret, header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"UNAUTHORIZED"`)
		})
	}
}
