package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/gateway"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/server/http/controllers"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// Options configures the HTTP server. Gateway and Authenticator together
// enable /ws.
type Options struct {
	controllers.Deps
	Gateway       *gateway.Gateway
	Authenticator gateway.Authenticator
	// AllowedOrigins feeds the CORS header; empty means "*".
	AllowedOrigins []string
}

// Server is the REST and WebSocket front of the bus.
type Server struct {
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

// New builds the mux and registers every route.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(opts.Deps).RegisterAllRoutes(mux)
	if opts.Gateway != nil && opts.Authenticator != nil {
		mux.Handle("/ws", opts.Gateway.Handler(opts.Authenticator))
	}
	return &Server{
		srv: &http.Server{
			Handler:           cors(opts.AllowedOrigins, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: opts.Logger.With(log.Component("http")),
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe binds to addr and serves until ctx is done, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close closes the listener immediately.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(allowed) > 0 {
			origin = ""
			reqOrigin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == "*" || o == reqOrigin {
					origin = reqOrigin
					break
				}
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Idempotency-Key, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
