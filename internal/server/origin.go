package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// OriginPolicy decides which browser origins may open real-time connections.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *zap.Logger
}

// NewOriginPolicy builds a policy from configured origins. "*" allows every
// origin; invalid entries are skipped.
func NewOriginPolicy(origins []string, logger *zap.Logger) *OriginPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &OriginPolicy{allowed: make(map[string]struct{}), logger: logger.Named("origin")}

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
			p.logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
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

// Allowed reports whether the request's Origin header passes the policy.
// Requests without an Origin header are rejected.
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}
	if p.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

// CheckOrigin is a websocket.Upgrader CheckOrigin func.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	if p.Allowed(r) {
		return true
	}
	p.logger.Warn("blocked connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}
