package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/auth"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

var wsTracer = otel.Tracer("eventbus-gateway")

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// BearerToken returns the "token" query parameter or the Authorization
// bearer credential.
func BearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (g *Gateway) upgrader() *websocket.Upgrader {
	allowed := g.opts.AllowedOrigins
	return &websocket.Upgrader{
		HandshakeTimeout: g.opts.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Handler serves the WebSocket endpoint. Clients without a valid token are
// rejected with 401 before the upgrade.
func (g *Gateway) Handler(authn Authenticator) http.Handler {
	up := g.upgrader()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := wsTracer.Start(r.Context(), "gateway.connection")
		defer span.End()

		token := BearerToken(r)
		if token == "" {
			httpError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := authn.Authenticate(ctx, token)
		if err != nil {
			span.RecordError(err)
			g.logger.WithContext(ctx).Warn("websocket authentication failed", log.Err(err), log.Str("remote", r.RemoteAddr))
			httpError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if !identity.ExpiresAt.IsZero() && !identity.ExpiresAt.After(time.Now()) {
			httpError(w, http.StatusUnauthorized, "token expired")
			return
		}
		span.SetAttributes(attribute.String("user.id", identity.ID))

		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			span.RecordError(err)
			g.logger.Debug("websocket upgrade failed", log.Err(err))
			return
		}
		c, err := g.Register(identity)
		if err != nil {
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			_ = ws.Close()
			return
		}
		span.SetAttributes(attribute.String("connection.id", c.ID))

		g.sessions.Add(1)
		defer g.sessions.Done()
		g.send(c, ServerMessage{Type: MsgConnected, ConnectionID: c.ID})

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			g.writePump(ws, c)
		}()
		g.readPump(ws, c)
		g.Unregister(c)
		<-writerDone
	})
}

func (g *Gateway) readPump(ws *websocket.Conn, c *Connection) {
	ws.SetReadLimit(g.opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read ended", log.Str(string(log.ConnectionIDKey), c.ID), log.Err(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
		g.handleClientMessage(c, data)
	}
}

func (g *Gateway) handleClientMessage(c *Connection, data []byte) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		g.send(c, ServerMessage{Type: MsgError, Error: "malformed message"})
		return
	}
	switch m.Type {
	case MsgSubscribe:
		topics, err := g.Subscribe(c, m.topics(), m.Filter)
		if err != nil {
			g.send(c, ServerMessage{Type: MsgError, Error: err.Error()})
			return
		}
		g.send(c, ServerMessage{Type: MsgSubscribed, Topics: topics, Filter: m.Filter})
	case MsgUnsubscribe:
		removed := g.Unsubscribe(c, m.topics())
		g.send(c, ServerMessage{Type: MsgUnsubscribed, Topics: removed})
	case MsgPing:
		g.send(c, ServerMessage{Type: MsgPong})
	default:
		g.send(c, ServerMessage{Type: MsgError, Error: "unknown message type: " + m.Type})
	}
}

// writePump is the only writer of ws. It drains the queue, pings, and closes
// the socket when the connection closes or its token expires.
func (g *Gateway) writePump(ws *websocket.Conn, c *Connection) {
	ping := time.NewTicker(g.opts.PingInterval)
	defer ping.Stop()
	defer ws.Close()

	var expiry <-chan time.Time
	if exp := c.Identity.ExpiresAt; !exp.IsZero() {
		t := time.NewTimer(time.Until(exp))
		defer t.Stop()
		expiry = t.C
	}

	for {
		select {
		case msg := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				g.forceClose(c, ReasonWriteError)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.opts.WriteWait)); err != nil {
				g.forceClose(c, ReasonWriteError)
				return
			}
		case <-expiry:
			g.forceClose(c, ReasonTokenExpired)
			g.writeClose(ws, websocket.ClosePolicyViolation, ReasonTokenExpired)
			return
		case <-c.done:
			code := websocket.CloseNormalClosure
			switch c.CloseReason() {
			case ReasonQueueFull:
				code = websocket.CloseTryAgainLater
			case ReasonShutdown:
				code = websocket.CloseGoingAway
			}
			g.writeClose(ws, code, c.CloseReason())
			return
		}
	}
}

func (g *Gateway) writeClose(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(g.opts.WriteWait))
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
