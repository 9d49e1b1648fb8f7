package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/securechat/internal/config"
	"github.com/Tyrowin/securechat/internal/logging"
	"github.com/Tyrowin/securechat/internal/server"
	"github.com/Tyrowin/securechat/internal/testhelpers"
)

// syncBuffer is a bytes.Buffer safe for one writer and one polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T) (*server.Server, config.ClientConfig) {
	t.Helper()

	cert := testhelpers.GenerateCertificate(t)
	tlsConfig, err := server.LoadTLSConfig(cert.CertFile, cert.KeyFile)
	if err != nil {
		t.Fatalf("LoadTLSConfig() error: %v", err)
	}
	ln, err := server.Listen(context.Background(), "127.0.0.1:0", tlsConfig, server.ListenOptions{})
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	scfg := config.Default().Server
	s := server.New(scfg, logging.Discard())
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testhelpers.DefaultTimeout)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	return s, config.ClientConfig{
		Host:   "127.0.0.1",
		Port:   ln.Addr().(*net.TCPAddr).Port,
		CAFile: cert.CertFile,
	}
}

type session struct {
	client *Client
	input  *io.PipeWriter
	output *syncBuffer
	done   chan error
}

func runClient(t *testing.T, s *server.Server, cfg config.ClientConfig, username string) *session {
	t.Helper()

	cfg.Username = username
	c, err := Dial(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	in, input := io.Pipe()
	sess := &session{client: c, input: input, output: &syncBuffer{}, done: make(chan error, 1)}
	go func() { sess.done <- c.Run(context.Background(), in, sess.output) }()
	t.Cleanup(func() {
		_ = input.Close()
		_ = c.Close()
	})

	testhelpers.Eventually(t, func() bool {
		for _, peer := range s.Registry().Snapshot() {
			if peer.Username() == username {
				return true
			}
		}
		return false
	}, username+" registered")
	return sess
}

func (s *session) waitFor(t *testing.T, want string) {
	t.Helper()
	testhelpers.Eventually(t, func() bool {
		return strings.Contains(s.output.String(), want)
	}, "output contains "+strconv.Quote(want))
}

func (s *session) waitDone(t *testing.T) {
	t.Helper()
	select {
	case err := <-s.done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("Run() did not return")
	}
}

func TestClientChat(t *testing.T) {
	s, cfg := startServer(t)

	alice := runClient(t, s, cfg, "alice")
	bob := runClient(t, s, cfg, "bob")
	alice.waitFor(t, "New user connected: bob")

	if _, err := io.WriteString(bob.input, "hi there\n"); err != nil {
		t.Fatalf("Failed to type: %v", err)
	}
	alice.waitFor(t, "bob> hi there")

	if _, err := io.WriteString(bob.input, ".quit\n"); err != nil {
		t.Fatalf("Failed to type: %v", err)
	}
	bob.waitDone(t)
	bob.waitFor(t, "bob has disconnected")
	alice.waitFor(t, "bob has disconnected")

	testhelpers.Eventually(t, func() bool { return s.SessionCount() == 1 }, "bob evicted")
}

func TestClientInputEOFQuits(t *testing.T) {
	s, cfg := startServer(t)

	alice := runClient(t, s, cfg, "alice")
	_ = alice.input.Close()
	alice.waitDone(t)

	testhelpers.Eventually(t, func() bool { return s.SessionCount() == 0 }, "alice evicted")
}

func TestClientEndsWhenServerShutsDown(t *testing.T) {
	s, cfg := startServer(t)

	alice := runClient(t, s, cfg, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), testhelpers.DefaultTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	alice.waitDone(t)

	if err := alice.client.Send("late"); err == nil {
		t.Error("Send() after the session ended should fail")
	}
}

func TestClientDefaultUsername(t *testing.T) {
	s, cfg := startServer(t)

	c, err := Dial(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()

	if len(c.Username()) != 36 {
		t.Errorf("Expected a UUID username, got %q", c.Username())
	}

	go func() { _ = c.Receive(io.Discard) }()
	testhelpers.Eventually(t, func() bool { return s.SessionCount() == 1 }, "client registered")
	if got := s.Registry().Snapshot()[0].Username(); got != c.Username() {
		t.Errorf("Expected server to register %q, got %q", c.Username(), got)
	}
}

func TestDialErrors(t *testing.T) {
	_, cfg := startServer(t)

	missing := cfg
	missing.CAFile = filepath.Join(t.TempDir(), "missing.crt")
	if _, err := Dial(context.Background(), missing, logging.Discard()); err == nil {
		t.Error("Expected an error for a missing CA file")
	}

	garbage := cfg
	garbage.CAFile = filepath.Join(t.TempDir(), "garbage.crt")
	if err := os.WriteFile(garbage.CAFile, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("Failed to write CA file: %v", err)
	}
	if _, err := Dial(context.Background(), garbage, logging.Discard()); err == nil {
		t.Error("Expected an error for a CA file without certificates")
	}

	untrusted := cfg
	untrusted.CAFile = testhelpers.GenerateCertificate(t).CertFile
	if _, err := Dial(context.Background(), untrusted, logging.Discard()); err == nil {
		t.Error("Expected verification to fail against an unrelated CA")
	}

	wrongName := cfg
	wrongName.ServerName = "chat.example.com"
	if _, err := Dial(context.Background(), wrongName, logging.Discard()); err == nil {
		t.Error("Expected verification to fail for a mismatched server name")
	}
}
