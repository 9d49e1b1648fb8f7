package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// originPolicy decides which browser origins may open a WebSocket session.
// Requests without an Origin header come from non-browser clients and are
// always allowed; "*" allows every origin.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      logrus.FieldLogger
}

func newOriginPolicy(origins []string, log logrus.FieldLogger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins)), log: log}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warnf("Ignoring invalid origin in configuration: %q", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p *originPolicy) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}

	if normalized, ok := normalizeOrigin(header); ok {
		if _, exists := p.allowed[normalized]; exists {
			return true
		}
	}

	p.log.Warnf("Blocked WebSocket connection from disallowed origin: %q", header)
	return false
}
