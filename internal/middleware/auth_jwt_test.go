package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

func protected(t *testing.T) (http.Handler, *string) {
	t.Helper()
	var gotUser string
	handler := AuthJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return handler, &gotUser
}

func TestAuthJWTValidToken(t *testing.T) {
	token, err := SignJWT(testSecret, TokenClaims{
		Sub: "user-42",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}

	handler, gotUser := protected(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if *gotUser != "user-42" {
		t.Fatalf("user id = %q, want user-42", *gotUser)
	}
}

func TestAuthJWTMissingHeader(t *testing.T) {
	handler, _ := protected(t)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthJWTBadSignature(t *testing.T) {
	token, err := SignJWT("other-secret", TokenClaims{Sub: "user-42"})
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}

	handler, _ := protected(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthJWTExpiredToken(t *testing.T) {
	token, err := SignJWT(testSecret, TokenClaims{
		Sub: "user-42",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}

	handler, _ := protected(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
