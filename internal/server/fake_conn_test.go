package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

var errBrokenPipe = errors.New("write: broken pipe")

// fakeConn is an in-memory Conn. Frames pushed to inbox are returned by
// ReadFrame; closing inbox simulates the peer hanging up.
type fakeConn struct {
	addr  net.Addr
	inbox chan []byte

	mu         sync.Mutex
	written    []string
	failWrites bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(port int) *fakeConn {
	return &fakeConn{
		addr:   &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case frame, ok := <-c.inbox:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteFrame(p []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errBrokenPipe
	}
	c.written = append(c.written, string(p))
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) RemoteAddr() net.Addr             { return c.addr }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) setFailWrites(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = fail
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeConn) received(frame string) bool {
	for _, f := range c.frames() {
		if f == frame {
			return true
		}
	}
	return false
}
