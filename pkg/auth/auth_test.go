package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeys(t *testing.T) {
	keys := NewAPIKeys()
	key, err := keys.Generate("ci")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !keys.Validate(key) {
		t.Error("generated key should validate")
	}
	if keys.Validate("wrong") || keys.Validate("") {
		t.Error("unknown key should not validate")
	}

	keys.Revoke(key)
	if keys.Validate(key) {
		t.Error("revoked key should not validate")
	}
}

func TestMiddleware(t *testing.T) {
	keys := NewAPIKeys()
	keys.Add("secret", "test")
	handler := keys.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		method   string
		header   string
		expected int
	}{
		{"read without key", http.MethodGet, "", http.StatusOK},
		{"submit without key", http.MethodPost, "", http.StatusUnauthorized},
		{"submit with wrong key", http.MethodPost, "Bearer nope", http.StatusUnauthorized},
		{"submit with basic auth", http.MethodPost, "Basic secret", http.StatusUnauthorized},
		{"submit with key", http.MethodPost, "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.expected {
				t.Errorf("status = %d, expected %d", rr.Code, tt.expected)
			}
		})
	}
}

func TestMiddleware_NoKeysConfigured(t *testing.T) {
	handler := NewAPIKeys().Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, expected %d", rr.Code, http.StatusOK)
	}
}
