// Package server defines the wire tokens, notices, and error helpers shared
// by the handshake, relay, and broadcast code.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// IdentifyToken is sent to a freshly accepted peer to request its username.
const IdentifyToken = "%IDENTIFY"

// DisconnectNotice is what the terminal client sends when the user quits.
const DisconnectNotice = "has disconnected"

var quitCommands = map[string]struct{}{
	".quit":          {},
	".exit":          {},
	DisconnectNotice: {},
}

var (
	// ErrSessionClosed is returned by Send once the session has been evicted.
	ErrSessionClosed = errors.New("server: session closed")
	// ErrEmptyUsername is returned when a peer identifies with an empty name.
	ErrEmptyUsername = errors.New("server: empty username")
	// ErrInvalidEncoding is returned when a frame is not valid UTF-8.
	ErrInvalidEncoding = errors.New("server: frame is not valid UTF-8")
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("server: closed")
)

func isQuitCommand(text string) bool {
	_, ok := quitCommands[strings.TrimSpace(text)]
	return ok
}

func joinNotice(username string) string {
	return "New user connected: " + username
}

func leaveNotice(username string) string {
	return username + " " + DisconnectNotice
}

func relayFrame(username, text string) string {
	return username + "> " + text
}

// AddressKey derives the registry key for a peer address: "<host>-<port>".
func AddressKey(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host + "-" + port
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrSessionClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// isTemporaryAcceptError reports whether Accept may succeed if retried:
// timeouts, descriptor or buffer exhaustion, and connections aborted before
// they were accepted.
func isTemporaryAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.ECONNABORTED)
}
