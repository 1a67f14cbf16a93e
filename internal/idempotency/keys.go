package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
)

// Request headers carrying a client key, in precedence order.
var keyHeaders = []string{"Idempotency-Key", "X-Idempotency-Key", "X-Request-ID"}

// KeyFromRequest returns the first client-supplied key, or "".
func KeyFromRequest(r *http.Request) string {
	for _, h := range keyHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

// EventKey scopes an event id to a consumer group so each group processes
// an event once.
func EventKey(group string, ev *envelope.Event) string {
	return group + ":" + ev.ID
}

// GenerateKey fingerprints a request for callers that send no key.
func GenerateKey(method, path, userID string, body []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(method), []byte(path), []byte(userID)} {
		h.Write(part)
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
