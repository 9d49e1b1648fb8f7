package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket connection to Conn. Each text or binary message
// is one frame, up to readLimit bytes; a longer message ends the session.
type wsConn struct {
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn, readLimit int64) *wsConn {
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteFrame(p []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, p)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *wsConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }

// Close sends a best-effort close frame and closes the connection.
func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// CreateServer creates an HTTP server for the WebSocket gateway with
// reasonable timeouts. Upgraded connections are not subject to them.
func CreateServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ServeGateway serves the WebSocket gateway on ln until Shutdown, after
// which it returns ErrServerClosed. ln is expected to already speak TLS.
func (s *Server) ServeGateway(ln net.Listener) error {
	hs := CreateServer(s.SetupRoutes())
	if !s.trackHTTPServer(hs, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.trackHTTPServer(hs, false)

	err := hs.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}
