package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
)

// ReplayedHeader marks a response served from a stored result.
const ReplayedHeader = "Idempotent-Replayed"

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

// serverError carries a captured 5xx response out of the guarded call so the
// key is recorded as failed and a retry may run again.
type serverError struct{ resp storedResponse }

func (e *serverError) Error() string { return fmt.Sprintf("handler returned %d", e.resp.Status) }

type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *captureWriter) Header() http.Header { return w.header }

func (w *captureWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

// Middleware deduplicates unsafe requests carrying a client key. A repeated
// key gets the first response back with ReplayedHeader set. Requests without
// a key and safe methods pass through.
func Middleware(g *Guard, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := KeyFromRequest(r)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			scoped := "http:" + r.Method + ":" + r.URL.Path + ":" + key
			raw, outcome, err := g.Run(r.Context(), scoped, ttl, func(ctx context.Context) ([]byte, error) {
				cw := &captureWriter{header: http.Header{}}
				next.ServeHTTP(cw, r.WithContext(ctx))
				for k, v := range cw.header {
					w.Header()[k] = v
				}
				resp := storedResponse{Status: cw.status, ContentType: cw.header.Get("Content-Type"), Body: cw.body.Bytes()}
				if resp.Status == 0 {
					resp.Status = http.StatusOK
				}
				if resp.Status >= 500 {
					return nil, &serverError{resp: resp}
				}
				return json.Marshal(resp)
			})
			var se *serverError
			var sp *buserr.StillProcessingError
			switch {
			case errors.As(err, &se):
				writeStored(w, se.resp)
			case errors.As(err, &sp):
				writeError(w, http.StatusConflict, "request with this idempotency key is still processing")
			case errors.Is(err, buserr.ErrStoreUnavailable):
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			case err != nil:
				writeError(w, http.StatusInternalServerError, err.Error())
			default:
				var resp storedResponse
				if jerr := json.Unmarshal(raw, &resp); jerr != nil {
					writeError(w, http.StatusInternalServerError, "corrupt stored response")
					return
				}
				if outcome == Replayed {
					w.Header().Set(ReplayedHeader, "true")
				}
				writeStored(w, resp)
			}
		})
	}
}

func writeStored(w http.ResponseWriter, resp storedResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
