package server

import "net/http"

// SetupRoutes returns the WebSocket gateway routes: a health check on "/"
// and the chat endpoint on "/ws".
func (s *Server) SetupRoutes() *http.ServeMux {
	g := newGateway(s)
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handleHealth)
	mux.HandleFunc("/ws", g.handleWebSocket)
	return mux
}
