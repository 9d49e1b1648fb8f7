package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session is the server-side record of one connected, identified client.
type Session struct {
	id       string
	conn     Conn
	addr     net.Addr
	key      string
	username string
	log      logrus.FieldLogger

	limiter      *rateLimiter
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type sessionOptions struct {
	writeTimeout time.Duration
	burst        int
	refill       time.Duration
}

func newSession(conn Conn, username string, opts sessionOptions, log logrus.FieldLogger) *Session {
	id := uuid.New().String()
	key := AddressKey(conn.RemoteAddr())
	s := &Session{
		id:           id,
		conn:         conn,
		addr:         conn.RemoteAddr(),
		key:          key,
		username:     username,
		writeTimeout: opts.writeTimeout,
		log: log.WithFields(logrus.Fields{
			"session": id[:8],
			"addr":    key,
			"user":    username,
		}),
	}
	if opts.burst > 0 {
		s.limiter = newRateLimiter(opts.burst, opts.refill)
	}
	return s
}

// ID returns the random identifier used to correlate log lines.
func (s *Session) ID() string { return s.id }

// Username returns the name the peer identified with.
func (s *Session) Username() string { return s.username }

// Addr returns the peer address.
func (s *Session) Addr() net.Addr { return s.addr }

// Key returns the registry key derived from Addr.
func (s *Session) Key() string { return s.key }

// Send writes one frame to the peer. It is safe to call from any goroutine;
// frames from concurrent callers never interleave. Once the session is closed
// Send fails with ErrSessionClosed without touching the connection.
func (s *Session) Send(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteFrame([]byte(text))
}

// Close closes the underlying connection exactly once. A relay loop blocked
// in ReadFrame observes it as a terminal read error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) allow() bool {
	return s.limiter == nil || s.limiter.allow()
}
