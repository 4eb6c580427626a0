package gateway

import (
	"context"
	"net/http"
	"strings"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

const (
	namespaceAdmin     = "/admin"
	eventAuthenticate  = "authenticate-admin"
	handshakeTokenKey  = "token"
	handshakeAuthorKey = "authorization"
)

// Hub adapts socket.io connections on the /admin namespace to the Broadcaster.
type Hub struct {
	sio         *socketio.Server
	broadcaster *Broadcaster
	logger      *zap.Logger
}

func NewHub(b *Broadcaster, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sio:         socketio.NewServer(nil, nil),
		broadcaster: b,
		logger:      logger.Named("Gateway"),
	}
	h.registerNamespace()
	return h
}

func (h *Hub) registerNamespace() {
	_ = h.sio.Of(namespaceAdmin, nil).On("connection", func(args ...any) {
		client, ok := args[0].(*socketio.Socket)
		if !ok {
			return
		}
		conn := socketConn{client: client}

		if token := handshakeToken(client); token != "" {
			_ = h.broadcaster.Authenticate(context.Background(), conn, token)
		}

		_ = client.On(eventAuthenticate, func(eventArgs ...any) {
			_ = h.broadcaster.Authenticate(context.Background(), conn, tokenArg(eventArgs))
		})
		_ = client.On("disconnect", func(...any) {
			h.broadcaster.Disconnect(conn.ID())
		})
	})
}

// Handler returns the socket.io HTTP handler mounted at /socket.io.
func (h *Hub) Handler() http.Handler {
	return h.sio.ServeHandler(nil)
}

// Close shuts down the socket.io server.
func (h *Hub) Close() {
	h.sio.Close(nil)
}

type socketConn struct {
	client *socketio.Socket
}

func (s socketConn) ID() string { return string(s.client.Id()) }

func (s socketConn) Connected() bool { return s.client.Connected() }

func (s socketConn) Emit(event string, payload any) error {
	return s.client.Emit(event, payload)
}

// tokenArg accepts either a bare token or {token: "..."}.
func tokenArg(args []any) string {
	if len(args) == 0 {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if token, ok := v["token"].(string); ok {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

func handshakeToken(client *socketio.Socket) string {
	handshake := client.Handshake()
	if handshake == nil {
		return ""
	}
	if token := firstValue(handshake.Query, handshakeTokenKey); token != "" {
		return token
	}
	return firstValue(handshake.Headers, handshakeAuthorKey)
}

func firstValue(values map[string][]string, key string) string {
	for k, list := range values {
		if !strings.EqualFold(strings.TrimSpace(k), key) || len(list) == 0 {
			continue
		}
		if v := strings.TrimSpace(list[0]); v != "" {
			return v
		}
	}
	return ""
}
