// Package testhelpers provides throwaway TLS material and client helpers for
// exercising the chat server over real connections in tests.
package testhelpers

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 5 * time.Second

// Certificate is a self-signed server certificate written to disk.
type Certificate struct {
	CertFile string
	KeyFile  string
	// Pool trusts the certificate, for client configs.
	Pool *x509.CertPool
}

// GenerateCertificate creates a self-signed ECDSA certificate valid for
// localhost, 127.0.0.1 and ::1, and writes it to a temporary directory.
func GenerateCertificate(t *testing.T) Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	encodedKey, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	dir := t.TempDir()
	cert := Certificate{
		CertFile: filepath.Join(dir, "server.crt"),
		KeyFile:  filepath.Join(dir, "server.key"),
		Pool:     x509.NewCertPool(),
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(cert.CertFile, certPEM, 0o600); err != nil {
		t.Fatalf("Failed to write certificate: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: encodedKey})
	if err := os.WriteFile(cert.KeyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}
	cert.Pool.AppendCertsFromPEM(certPEM)
	return cert
}

// ClientTLSConfig returns a client config trusting cert.
func (c Certificate) ClientTLSConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    c.Pool,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	}
}

// DialTLS connects to addr and fails the test on error.
func DialTLS(t *testing.T, addr string, cert Certificate) *tls.Conn {
	t.Helper()

	dialer := &net.Dialer{Timeout: DefaultTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, cert.ClientTLSConfig())
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Identify completes the %IDENTIFY handshake on conn as username.
func Identify(t *testing.T, conn net.Conn, username string) {
	t.Helper()

	WaitForText(t, conn, "%IDENTIFY")
	if _, err := conn.Write([]byte(username)); err != nil {
		t.Fatalf("Failed to send username %q: %v", username, err)
	}
}

// WaitForText reads from conn until the accumulated data contains want, and
// returns everything read. Stream transports may merge or split frames, so
// matching on the accumulated text is the reliable check.
func WaitForText(t *testing.T, conn net.Conn, want string) string {
	t.Helper()

	got, err := ReadUntil(conn, want, DefaultTimeout)
	if err != nil {
		t.Fatalf("Expected to receive %q, got %q: %v", want, got, err)
	}
	return got
}

// ReadUntil reads from conn until the accumulated data contains want or
// timeout expires.
func ReadUntil(conn net.Conn, want string, timeout time.Duration) (string, error) {
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	chunk := make([]byte, 1024)
	for !strings.Contains(buf.String(), want) {
		n, err := conn.Read(chunk)
		buf.Write(chunk[:n])
		if err != nil {
			return buf.String(), err
		}
	}
	return buf.String(), nil
}

// ExpectSilence asserts that nothing arrives on conn for d.
func ExpectSilence(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()

	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if n > 0 {
		t.Fatalf("Expected no data, got %q", buf[:n])
	}
	var ne net.Error
	if err != nil && !(errors.As(err, &ne) && ne.Timeout()) {
		t.Fatalf("Expected read timeout, got %v", err)
	}
}

// ExpectClosed asserts that the peer closes conn within DefaultTimeout,
// skipping any data still in flight.
func ExpectClosed(t *testing.T, conn net.Conn) {
	t.Helper()

	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	_ = conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	buf := make([]byte, 1024)
	for {
		_, err := conn.Read(buf)
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.Fatal("Connection still open")
		}
		return
	}
}

// Eventually polls cond until it holds or DefaultTimeout expires.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Condition not met: %s", msg)
}

// DialWebSocket connects a WebSocket client to url and fails the test on error.
func DialWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial WebSocket %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ReadWebSocketText reads the next message from conn within DefaultTimeout.
func ReadWebSocketText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	return string(data)
}
