// Package server accepts TLS connections, identifies each peer with a short
// handshake, and relays chat messages between the connected sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/securechat/internal/config"
)

// Server owns the listeners, the session registry and the per-connection
// goroutines.
type Server struct {
	cfg         config.ServerConfig
	log         logrus.FieldLogger
	registry    *Registry
	broadcaster *Broadcaster

	mu          sync.Mutex
	closing     bool
	listeners   map[net.Listener]struct{}
	httpServers map[*http.Server]struct{}
	// accepted connections that have not finished the handshake yet
	pending map[Conn]struct{}

	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New creates a Server. Listeners are attached with Serve or ListenAndServe.
func New(cfg config.ServerConfig, log logrus.FieldLogger) *Server {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = config.DefaultReadBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = config.DefaultMaxMessageSize
	}
	registry := NewRegistry(log)
	return &Server{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, log),
		listeners:   make(map[net.Listener]struct{}),
		httpServers: make(map[*http.Server]struct{}),
		pending:     make(map[Conn]struct{}),
	}
}

// Registry exposes the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int {
	return s.registry.Len()
}

// ListenAndServe loads the certificate pair, binds the TLS listener and, if
// configured, the WebSocket gateway, then serves until Shutdown. Any setup
// failure is returned before serving starts.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsConfig, err := LoadTLSConfig(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		return err
	}

	ln, err := Listen(ctx, s.cfg.Address(), tlsConfig, ListenOptions{
		MaxConnections: s.cfg.MaxConnections,
		UserTimeout:    s.cfg.WriteTimeout.Duration,
	})
	if err != nil {
		return err
	}

	if s.cfg.WebSocketAddr != "" {
		gwLn, err := Listen(ctx, s.cfg.WebSocketAddr, tlsConfig, ListenOptions{
			UserTimeout: s.cfg.WriteTimeout.Duration,
		})
		if err != nil {
			ln.Close()
			return err
		}
		s.log.Infof("WebSocket gateway listening at %s", gwLn.Addr())
		go func() {
			if err := s.ServeGateway(gwLn); err != nil && !errors.Is(err, ErrServerClosed) {
				s.log.WithError(err).Error("WebSocket gateway stopped")
			}
		}()
	}

	s.log.Infof("Server ready to connect at %s", ln.Addr())
	return s.Serve(ln)
}

// Serve accepts connections on ln until ln fails or Shutdown is called, in
// which case it returns ErrServerClosed. Each connection is handled on its
// own goroutine so a slow peer never blocks the accept loop.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	var tempDelay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if isTemporaryAcceptError(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.log.WithError(err).Warnf("Accept error; retrying in %v", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		conn := newStreamConn(nc, s.cfg.ReadBufferSize)
		if !s.admit(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.handleConn(conn)
	}
}

// admit records conn as pending and accounts for its goroutine. It fails once
// shutdown has begun.
func (s *Server) admit(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.pending[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

// handleConn runs the handshake and then the relay loop for one connection.
// It must be preceded by a successful admit.
func (s *Server) handleConn(conn Conn) {
	defer s.wg.Done()

	log := s.log.WithField("addr", AddressKey(conn.RemoteAddr()))
	username, err := negotiate(conn, s.cfg.HandshakeTimeout.Duration)
	if err != nil {
		s.mu.Lock()
		delete(s.pending, conn)
		s.mu.Unlock()
		conn.Close()
		log.WithError(err).Info("Handshake failed, connection dropped")
		return
	}

	sess := newSession(conn, username, sessionOptions{
		writeTimeout: s.cfg.WriteTimeout.Duration,
		burst:        s.cfg.RateLimit.Burst,
		refill:       s.cfg.RateLimit.RefillInterval.Duration,
	}, s.log)

	s.mu.Lock()
	delete(s.pending, conn)
	if s.closing {
		s.mu.Unlock()
		sess.Close()
		return
	}
	s.registry.Register(sess)
	s.mu.Unlock()

	sess.log.Info(joinNotice(username))
	s.broadcaster.Announce(joinNotice(username), sess.key)

	s.relay(sess)
}

// Shutdown stops accepting, closes every session and pending connection, and
// waits for the connection goroutines to return or ctx to expire. It is safe
// to call more than once and concurrently with accept and relay activity.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		listeners := make([]net.Listener, 0, len(s.listeners))
		for ln := range s.listeners {
			listeners = append(listeners, ln)
		}
		httpServers := make([]*http.Server, 0, len(s.httpServers))
		for hs := range s.httpServers {
			httpServers = append(httpServers, hs)
		}
		pending := make([]Conn, 0, len(s.pending))
		for conn := range s.pending {
			pending = append(pending, conn)
		}
		s.pending = make(map[Conn]struct{})
		s.mu.Unlock()

		for _, ln := range listeners {
			if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
				s.log.WithError(err).Warn("Error closing listener")
			}
		}
		for _, hs := range httpServers {
			if err := hs.Close(); err != nil {
				s.log.WithError(err).Warn("Error closing WebSocket gateway")
			}
		}
		for _, conn := range pending {
			conn.Close()
		}

		closed := s.registry.CloseAll()
		s.log.Infof("Closed %d sessions", closed)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.closing {
			return false
		}
		s.listeners[ln] = struct{}{}
		return true
	}
	delete(s.listeners, ln)
	return true
}

func (s *Server) trackHTTPServer(hs *http.Server, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.closing {
			return false
		}
		s.httpServers[hs] = struct{}{}
		return true
	}
	delete(s.httpServers, hs)
	return true
}
