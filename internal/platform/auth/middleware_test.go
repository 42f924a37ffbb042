package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	return mw(handler)(e.NewContext(req, rec))
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "", ok)
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header, ok)
			if err == nil {
				t.Fatal("expected error")
			}
			if httpErr, isHTTP := err.(*echo.HTTPError); !isHTTP || httpErr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %v", err)
			}
		})
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "M5zQapPyTZI",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
		},
	}
	token := createTestToken(t, claims, testSigningKey)

	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token, ok)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTMiddleware_BindsUser(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "M5zQapPyTZI",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		},
		Username:    "tracker.clerk",
		Authorities: []string{AuthorityTrackerImport, AuthorityEnrollmentCascadeDelete},
		OrgUnits:    []string{"/ImspTQPwCqd/O6uvpzGd5pu"},
		Programs:    []string{"IpHINAT79UW"},
	}
	token := createTestToken(t, claims, testSigningKey)

	var got *User
	err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token, func(c echo.Context) error {
		got = UserFromContext(c.Request().Context())
		return ok(c)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected user in context")
	}
	if got.Username != "tracker.clerk" || got.UID != "M5zQapPyTZI" {
		t.Errorf("unexpected user %+v", got)
	}
	if !got.IsAuthorized(AuthorityEnrollmentCascadeDelete) {
		t.Error("expected cascade delete authority")
	}
	if got.IsAuthorized(AuthorityTEICascadeDelete) {
		t.Error("did not expect TEI cascade delete authority")
	}
}

func TestJWTMiddleware_UsernameFallsBackToSubject(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "svc-sync"}}
	if u := c.User(); u.Username != "svc-sync" {
		t.Errorf("expected svc-sync, got %s", u.Username)
	}
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	var got *User
	err := runMiddleware(t, DevAuthMiddleware(), "", func(c echo.Context) error {
		got = UserFromContext(c.Request().Context())
		return ok(c)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsSuper() {
		t.Errorf("expected dev superuser, got %+v", got)
	}
}
