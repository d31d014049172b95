package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medisync/medisync-go/internal/crypto"
)

const testSecret = "test-secret-key"

func protectedHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserIDFromContext(r.Context())
		if !ok {
			t.Error("expected a user id in context")
		}
		if id != 42 {
			t.Errorf("expected user 42, got %d", id)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestJWTAuth(t *testing.T) {
	handler := JWTAuth(testSecret)(protectedHandler(t))

	token, err := crypto.GenerateToken(42, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestJWTAuth_RejectsExpiredToken(t *testing.T) {
	handler := JWTAuth(testSecret)(protectedHandler(t))

	token, err := crypto.GenerateToken(42, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
