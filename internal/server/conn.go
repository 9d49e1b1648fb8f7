package server

import (
	"net"
	"time"
)

// Conn is a frame-oriented connection. Every transport the server accepts
// from is adapted to it so the handshake and relay code stay transport-agnostic.
//
// ReadFrame is only ever called from one goroutine. Writes are serialized by
// the owning Session, so implementations need not lock.
type Conn interface {
	// ReadFrame blocks for the next inbound frame. It returns io.EOF when the
	// peer has gone away cleanly.
	ReadFrame() ([]byte, error)
	WriteFrame(p []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// streamConn treats each Read on a byte stream as one frame, so a frame is
// whatever the peer wrote in one call, capped at the read buffer size.
// Longer writes arrive split over several frames.
type streamConn struct {
	net.Conn
	buf []byte
	// error returned by Read together with data, reported on the next call
	pending error
}

func newStreamConn(conn net.Conn, bufSize int) *streamConn {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &streamConn{Conn: conn, buf: make([]byte, bufSize)}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	if c.pending != nil {
		err := c.pending
		c.pending = nil
		return nil, err
	}
	for {
		n, err := c.Conn.Read(c.buf)
		if n > 0 {
			c.pending = err
			frame := make([]byte, n)
			copy(frame, c.buf[:n])
			return frame, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *streamConn) WriteFrame(p []byte) error {
	_, err := c.Conn.Write(p)
	return err
}
