package server

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// negotiate asks a freshly accepted peer for its username: it sends
// IdentifyToken and treats the next frame as the name. A positive timeout
// bounds the whole exchange, TLS handshake included; zero waits forever.
func negotiate(conn Conn, timeout time.Duration) (string, error) {
	if timeout > 0 {
		deadline := time.Now().Add(timeout)
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	if err := conn.WriteFrame([]byte(IdentifyToken)); err != nil {
		return "", fmt.Errorf("send %s: %w", IdentifyToken, err)
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("read username: %w", err)
	}
	if !utf8.Valid(frame) {
		return "", ErrInvalidEncoding
	}

	username := strings.TrimRight(string(frame), "\r\n")
	if strings.TrimSpace(username) == "" {
		return "", ErrEmptyUsername
	}
	return username, nil
}
