// Package auth guards the run submission API with bearer API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// APIKeys holds the accepted keys. Only digests are kept.
type APIKeys struct {
	digests map[[32]byte]string // digest -> description
	mu      sync.RWMutex
}

// NewAPIKeys creates an empty key set
func NewAPIKeys() *APIKeys {
	return &APIKeys{
		digests: make(map[[32]byte]string),
	}
}

// Add accepts key, labelled with description
func (k *APIKeys) Add(key, description string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.digests[sha256.Sum256([]byte(key))] = description
}

// Generate creates, accepts and returns a new random key
func (k *APIKeys) Generate(description string) (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key := base64.RawURLEncoding.EncodeToString(keyBytes)
	k.Add(key, description)
	return key, nil
}

// Revoke stops accepting key
func (k *APIKeys) Revoke(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.digests, sha256.Sum256([]byte(key)))
}

// Len returns the number of accepted keys
func (k *APIKeys) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.digests)
}

// Validate reports whether key is accepted, comparing in constant time
func (k *APIKeys) Validate(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))

	k.mu.RLock()
	defer k.mu.RUnlock()

	ok := false
	for d := range k.digests {
		if subtle.ConstantTimeCompare(d[:], digest[:]) == 1 {
			ok = true
		}
	}
	return ok
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware rejects state-changing requests without a valid bearer key.
// Reads stay open. With no keys configured every request passes.
func (k *APIKeys) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if k.Len() > 0 && !k.Validate(BearerToken(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="farmsim"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
