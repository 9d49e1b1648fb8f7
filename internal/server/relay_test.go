package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/securechat/internal/config"
	"github.com/Tyrowin/securechat/internal/logging"
)

func newFakeServer(t *testing.T, mutate func(*config.ServerConfig)) *Server {
	t.Helper()

	cfg := config.Default().Server
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg, logging.Discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	})
	return s
}

// join runs a fake connection through the handshake and waits until it is
// registered.
func join(t *testing.T, s *Server, port int, username string) *fakeConn {
	t.Helper()

	conn := newFakeConn(port)
	if !s.admit(conn) {
		t.Fatal("admit() refused connection")
	}
	go s.handleConn(conn)
	conn.inbox <- []byte(username)

	waitFor(t, func() bool {
		name, ok := s.Registry().Lookup(conn.RemoteAddr())
		return ok && name == username
	}, username+" registered")
	return conn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for: %s", msg)
}

func TestRelayJoinAndMessage(t *testing.T) {
	s := newFakeServer(t, nil)
	alice := join(t, s, 5001, "alice")
	bob := join(t, s, 5002, "bob")

	waitFor(t, func() bool { return alice.received("New user connected: bob") }, "join notice")
	if bob.received("New user connected: bob") {
		t.Error("Joining user must not see its own join notice")
	}

	bob.inbox <- []byte("hi")
	waitFor(t, func() bool { return alice.received("bob> hi") }, "relayed message")
}

func TestRelayQuitCommand(t *testing.T) {
	for _, command := range []string{".quit", ".exit", "has disconnected"} {
		t.Run(command, func(t *testing.T) {
			s := newFakeServer(t, nil)
			alice := join(t, s, 5001, "alice")
			bob := join(t, s, 5002, "bob")

			alice.inbox <- []byte(command)

			waitFor(t, alice.isClosed, "quitting connection closed")
			if !alice.received("alice has disconnected") {
				t.Errorf("Quitting peer should get a final notice, got %v", alice.frames())
			}
			waitFor(t, func() bool { return bob.received("alice has disconnected") }, "leave notice")
			if _, ok := s.Registry().Lookup(alice.RemoteAddr()); ok {
				t.Error("Quitting session should be evicted")
			}
			if bob.received("alice> " + command) {
				t.Error("Quit command must not be relayed")
			}
		})
	}
}

func TestRelayEndOfStream(t *testing.T) {
	s := newFakeServer(t, nil)
	alice := join(t, s, 5001, "alice")
	bob := join(t, s, 5002, "bob")

	close(alice.inbox)

	waitFor(t, func() bool { return bob.received("alice has disconnected") }, "leave notice")
	waitFor(t, func() bool { return s.SessionCount() == 1 }, "alice evicted")
	if !alice.isClosed() {
		t.Error("Connection should be closed after end of stream")
	}
}

func TestRelayRateLimit(t *testing.T) {
	s := newFakeServer(t, func(cfg *config.ServerConfig) {
		cfg.RateLimit = config.RateLimitConfig{Burst: 2, RefillInterval: config.Duration{Duration: time.Hour}}
	})
	alice := join(t, s, 5001, "alice")
	bob := join(t, s, 5002, "bob")

	for _, msg := range []string{"one", "two", "three"} {
		bob.inbox <- []byte(msg)
	}
	// the quit command is exempt from the limit and flushes the relay loop
	bob.inbox <- []byte(".quit")
	waitFor(t, bob.isClosed, "bob quit")

	if !alice.received("bob> one") || !alice.received("bob> two") {
		t.Errorf("Messages within the burst should be relayed, got %v", alice.frames())
	}
	if alice.received("bob> three") {
		t.Error("Message over the limit should be discarded")
	}
}

func TestRelayIgnoresEmptyFrames(t *testing.T) {
	s := newFakeServer(t, nil)
	alice := join(t, s, 5001, "alice")
	bob := join(t, s, 5002, "bob")

	bob.inbox <- []byte{}
	bob.inbox <- []byte("after")
	waitFor(t, func() bool { return alice.received("bob> after") }, "message after empty frame")
	for _, frame := range alice.frames() {
		if frame == "bob> " {
			t.Error("Empty frame should not be relayed")
		}
	}
}

func TestHandshakeFailureDoesNotRegister(t *testing.T) {
	s := newFakeServer(t, nil)
	alice := join(t, s, 5001, "alice")
	before := len(alice.frames())

	conn := newFakeConn(5002)
	s.admit(conn)
	done := make(chan struct{})
	go func() {
		s.handleConn(conn)
		close(done)
	}()
	conn.inbox <- []byte("")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handleConn did not return after failed handshake")
	}
	if !conn.isClosed() {
		t.Error("Connection should be closed after a failed handshake")
	}
	if s.SessionCount() != 1 {
		t.Errorf("Expected only alice registered, got %d sessions", s.SessionCount())
	}
	for _, frame := range alice.frames()[before:] {
		if strings.HasPrefix(frame, "New user connected:") {
			t.Errorf("Failed handshake must not be announced, alice got %q", frame)
		}
	}
}

func TestShutdownUnblocksRelayAndHandshake(t *testing.T) {
	cfg := config.Default().Server
	s := New(cfg, logging.Discard())
	alice := join(t, s, 5001, "alice")
	bob := join(t, s, 5002, "bob")

	silent := newFakeConn(5003)
	s.admit(silent)
	go s.handleConn(silent)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	for name, conn := range map[string]*fakeConn{"alice": alice, "bob": bob, "silent": silent} {
		if !conn.isClosed() {
			t.Errorf("%s connection still open after shutdown", name)
		}
	}
	if s.SessionCount() != 0 {
		t.Errorf("Expected empty registry, got %d", s.SessionCount())
	}
	if alice.received("bob has disconnected") || bob.received("alice has disconnected") {
		t.Error("Shutdown must not announce departures")
	}
	if s.admit(newFakeConn(5004)) {
		t.Error("admit() should fail after shutdown")
	}
	// a second call is a no-op
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Second Shutdown() error: %v", err)
	}
}
