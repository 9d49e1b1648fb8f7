package server

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"
)

// Broadcaster delivers frames to every registered session except the sender.
// Delivery is best effort: a recipient whose send fails is evicted and the
// broadcast carries on with the rest.
type Broadcaster struct {
	registry *Registry
	log      logrus.FieldLogger
}

// NewBroadcaster returns a Broadcaster sending to the sessions in registry.
func NewBroadcaster(registry *Registry, log logrus.FieldLogger) *Broadcaster {
	return &Broadcaster{registry: registry, log: log}
}

// Deliver relays text from the session registered at from to everybody else,
// prefixed with the sender's username. It returns the number of recipients
// that accepted the frame.
func (b *Broadcaster) Deliver(from net.Addr, text string) int {
	username, ok := b.registry.Lookup(from)
	if !ok {
		b.log.WithField("addr", AddressKey(from)).Debug("Dropping message from unregistered address")
		return 0
	}
	return b.send(relayFrame(username, text), AddressKey(from))
}

// Announce sends a raw server notice to every session except the one keyed
// by exceptKey. An empty exceptKey reaches everybody.
func (b *Broadcaster) Announce(text, exceptKey string) int {
	return b.send(text, exceptKey)
}

// Depart evicts s and tells the remaining sessions it has left. Only the
// caller that actually evicts s announces the departure; later calls for the
// same session are no-ops and return false.
func (b *Broadcaster) Depart(s *Session) bool {
	if !b.registry.EvictSession(s) {
		return false
	}
	b.log.WithField("addr", s.key).Info(leaveNotice(s.username))
	b.Announce(leaveNotice(s.username), s.key)
	return true
}

func (b *Broadcaster) send(frame, exceptKey string) int {
	sessions := b.registry.Snapshot()

	delivered := 0
	var failed []*Session
	for _, s := range sessions {
		if exceptKey != "" && s.key == exceptKey {
			continue
		}
		if err := s.Send(frame); err != nil {
			if !errors.Is(err, ErrSessionClosed) {
				s.log.WithError(err).Warn("Send failed, evicting recipient")
			}
			failed = append(failed, s)
			continue
		}
		delivered++
	}

	for _, s := range failed {
		b.Depart(s)
	}
	return delivered
}
