package server

import (
	"strings"
)

// relay is the per-session read loop. It returns once the session has been
// evicted, whether by the peer quitting, an I/O error, or shutdown.
func (s *Server) relay(sess *Session) {
	for {
		frame, err := sess.conn.ReadFrame()
		if err != nil {
			s.logReadError(sess, err)
			s.broadcaster.Depart(sess)
			return
		}
		if len(frame) == 0 {
			continue
		}

		text := strings.ToValidUTF8(string(frame), "�")
		if isQuitCommand(text) {
			s.quit(sess)
			return
		}

		if !sess.allow() {
			sess.log.Warnf("Rate limit exceeded (%d messages per %s); discarding message",
				s.cfg.RateLimit.Burst, s.cfg.RateLimit.RefillInterval.Duration)
			continue
		}

		delivered := s.broadcaster.Deliver(sess.addr, text)
		sess.log.WithField("recipients", delivered).Debugf("Relayed message: %s", text)
	}
}

// quit handles an explicit quit command: the peer gets a final notice before
// its connection is closed, then everybody else hears it left.
func (s *Server) quit(sess *Session) {
	if err := sess.Send(leaveNotice(sess.username)); err != nil && !isExpectedCloseError(err) {
		sess.log.WithError(err).Debug("Could not deliver final notice")
	}
	s.broadcaster.Depart(sess)
}

func (s *Server) logReadError(sess *Session, err error) {
	switch {
	case sess.Closed():
		sess.log.Debug("Session closed while reading")
	case isExpectedCloseError(err):
		sess.log.WithError(err).Debug("Connection closed by peer")
	default:
		sess.log.WithError(err).Warn("Read error, dropping session")
	}
}
