// Package client implements the terminal side of the chat protocol: it answers
// the server's identify prompt and relays lines between a terminal and the
// server.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/securechat/internal/config"
)

const (
	identifyToken    = "%IDENTIFY"
	disconnectNotice = "has disconnected"
	readBufferSize   = 1024
	// how long Quit waits for the server to close the connection
	quitGracePeriod = 2 * time.Second
)

// ErrClosed is returned by Send after the client has been closed.
var ErrClosed = errors.New("client: connection closed")

// Client is one connection to the chat server.
type Client struct {
	conn     net.Conn
	username string
	log      logrus.FieldLogger

	writeMu    sync.Mutex
	closed     atomic.Bool
	closeOnce  sync.Once
	identified chan struct{}
	identOnce  sync.Once
}

// Dial connects to the server described by cfg and verifies its certificate
// against cfg.CAFile, or the system pool when no CA file is set. The username
// defaults to cfg.Username and then to a random UUID.
func Dial(ctx context.Context, cfg config.ClientConfig, log logrus.FieldLogger) (*Client, error) {
	tlsConfig, err := tlsConfigFor(cfg)
	if err != nil {
		return nil, err
	}

	dialer := &tls.Dialer{Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Address(), err)
	}

	username := cfg.Username
	if username == "" {
		username = uuid.New().String()
	}
	log.Debugf("Connected to %s as %s", cfg.Address(), username)

	return newClient(conn, username, log), nil
}

func newClient(conn net.Conn, username string, log logrus.FieldLogger) *Client {
	return &Client{
		conn:       conn,
		username:   username,
		log:        log,
		identified: make(chan struct{}),
	}
}

func tlsConfigFor(cfg config.ClientConfig) (*tls.Config, error) {
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = cfg.Host
	}
	tlsConfig := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Username returns the name sent in answer to the identify prompt.
func (c *Client) Username() string {
	return c.username
}

// Send writes one frame to the server.
func (c *Client) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if _, err := c.conn.Write([]byte(text)); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	c.log.Debugf("Sending message: %q", text)
	return nil
}

// Quit tells the server this client is leaving. The server answers by
// closing the connection.
func (c *Client) Quit() error {
	return c.Send(disconnectNotice)
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// Receive reads frames until the connection ends. The identify prompt is
// answered with the username; every other frame is written to out on its own
// line. A server-side close or a local Close ends Receive with nil.
func (c *Client) Receive(out io.Writer) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			frame := string(buf[:n])
			if frame == identifyToken {
				if err := c.Send(c.username); err != nil {
					return err
				}
				c.identOnce.Do(func() { close(c.identified) })
			} else {
				fmt.Fprintln(out, frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || c.closed.Load() {
				return nil
			}
			return fmt.Errorf("receive failed: %w", err)
		}
	}
}

// Run relays lines from in to the server and frames from the server to out
// until the server closes the connection, the user types .quit or .exit, in
// reaches EOF, or ctx is cancelled. Lines typed before the server asked for
// the username are held until the handshake is done.
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	defer c.Close()

	received := make(chan error, 1)
	go func() { received <- c.Receive(out) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-c.identified:
	case err := <-received:
		return err
	case <-ctx.Done():
		return nil
	}

	for {
		select {
		case err := <-received:
			return err
		case <-ctx.Done():
			return c.leave(received)
		case line, ok := <-lines:
			if !ok {
				return c.leave(received)
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case ".quit", ".exit":
				return c.leave(received)
			}
			if err := c.Send(line); err != nil {
				return err
			}
		}
	}
}

// leave sends the quit notice and gives the server a moment to answer it
// before the connection is closed.
func (c *Client) leave(received <-chan error) error {
	if err := c.Quit(); err != nil {
		c.log.WithError(err).Debug("Failed to send quit notice")
		return nil
	}
	c.log.Debug("Quitting...")

	select {
	case err := <-received:
		return err
	case <-time.After(quitGracePeriod):
		return nil
	}
}
