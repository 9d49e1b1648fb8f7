package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

type gateway struct {
	server   *Server
	upgrader websocket.Upgrader
}

func newGateway(s *Server) *gateway {
	origins := newOriginPolicy(s.cfg.AllowedOrigins, s.log)
	return &gateway{
		server: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  s.cfg.ReadBufferSize,
			WriteBufferSize: s.cfg.ReadBufferSize,
			CheckOrigin:     origins.check,
		},
	}
}

// handleWebSocket upgrades the request and runs the same handshake and relay
// path as a TLS stream connection. It returns when the session ends.
func (g *gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.server.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	conn := newWSConn(ws, g.server.cfg.MaxMessageSize)
	if !g.server.admit(conn) {
		conn.Close()
		return
	}
	g.server.handleConn(conn)
}

// handleHealth reports that the server is up and how many sessions it holds.
func (g *gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "securechat server is running! sessions: %d", g.server.SessionCount())
}
