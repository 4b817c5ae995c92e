// Package auth guards the history and live-feed endpoints with static API
// keys taken from the API_KEYS setting.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

type ctxKey string

const keyCtxKey ctxKey = "api_key_id"

// Keys is a set of accepted API keys. Keys are compared by SHA-256 digest in
// constant time.
type Keys struct {
	digests [][sha256.Size]byte
}

// NewKeys builds a key set. Empty entries are ignored.
func NewKeys(keys []string) *Keys {
	k := &Keys{}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			k.digests = append(k.digests, sha256.Sum256([]byte(key)))
		}
	}
	return k
}

// Enabled reports whether any key is configured.
func (k *Keys) Enabled() bool { return k != nil && len(k.digests) > 0 }

// Match returns the index of the matching key, or -1.
func (k *Keys) Match(presented string) int {
	if presented == "" {
		return -1
	}
	d := sha256.Sum256([]byte(presented))
	match := -1
	for i, want := range k.digests {
		if subtle.ConstantTimeCompare(d[:], want[:]) == 1 && match == -1 {
			match = i
		}
	}
	return match
}

// RequireAPIKey is chi middleware that accepts "X-API-Key: <key>",
// "Authorization: Bearer <key>" or, for EventSource and WebSocket clients
// that cannot set headers, "?api_key=<key>". With no keys configured every
// request passes.
func RequireAPIKey(keys *Keys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !keys.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			idx := keys.Match(presentedKey(r))
			if idx < 0 {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="phishguard"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"authentication required"}`))
				return
			}
			ctx := context.WithValue(r.Context(), keyCtxKey, idx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyIndexFromCtx returns the index of the API key that authenticated the
// request, or -1.
func KeyIndexFromCtx(ctx context.Context) int {
	if i, ok := ctx.Value(keyCtxKey).(int); ok {
		return i
	}
	return -1
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("api_key")
}
