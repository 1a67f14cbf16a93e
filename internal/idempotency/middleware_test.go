package idempotency

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
)

func TestMiddlewareReplaysResponse(t *testing.T) {
	var calls atomic.Int32
	h := Middleware(NewGuard(NewMemoryStore(), fastOptions()), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"call":`+string(rune('0'+n))+`}`)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/events/publish", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(ReplayedHeader))
	assert.JSONEq(t, `{"call":1}`, first.Body.String())

	second := do()
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.JSONEq(t, `{"call":1}`, second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.EqualValues(t, 1, calls.Load())
}

func TestMiddlewareServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	h := Middleware(NewGuard(NewMemoryStore(), fastOptions()), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	for _, want := range []int{http.StatusBadGateway, http.StatusAccepted, http.StatusAccepted} {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set("X-Idempotency-Key", "k1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls atomic.Int32
	h := Middleware(NewGuard(NewMemoryStore(), fastOptions()), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Idempotency-Key", "k")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.EqualValues(t, 4, calls.Load())
}

func TestKeyFromRequestPrecedence(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Empty(t, KeyFromRequest(r))
	r.Header.Set("X-Request-ID", "req")
	assert.Equal(t, "req", KeyFromRequest(r))
	r.Header.Set("X-Idempotency-Key", "xk")
	assert.Equal(t, "xk", KeyFromRequest(r))
	r.Header.Set("Idempotency-Key", "ik")
	assert.Equal(t, "ik", KeyFromRequest(r))
}

func TestEventAndGeneratedKeys(t *testing.T) {
	ev := &envelope.Event{ID: "0b7c2f8e-4a53-4f0e-9b7a-6b1c1d3e5f70"}
	assert.Equal(t, "billing:0b7c2f8e-4a53-4f0e-9b7a-6b1c1d3e5f70", EventKey("billing", ev))

	a := GenerateKey("POST", "/v1/events/publish", "u1", []byte(`{"a":1}`))
	b := GenerateKey("POST", "/v1/events/publish", "u1", []byte(`{"a":1}`))
	c := GenerateKey("POST", "/v1/events/publish", "u2", []byte(`{"a":1}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
