package config

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthScheme is a set of credential headers attached to a relay request.
type AuthScheme uint8

const (
	AuthAPIKey AuthScheme = 1 << iota // X-API-Key: <key>
	AuthBearer                        // Authorization: Bearer <key>
)

// ParseAuthScheme accepts "apikey", "bearer", or both joined with "+"
// ("bearer+apikey"); "both" is an alias for the latter.
func ParseAuthScheme(s string) (AuthScheme, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "both" {
		return AuthAPIKey | AuthBearer, nil
	}
	var scheme AuthScheme
	for _, part := range strings.Split(s, "+") {
		switch strings.TrimSpace(part) {
		case "apikey", "api-key", "x-api-key":
			scheme |= AuthAPIKey
		case "bearer":
			scheme |= AuthBearer
		default:
			return 0, fmt.Errorf("unknown auth scheme %q", part)
		}
	}
	return scheme, nil
}

func (a AuthScheme) Has(s AuthScheme) bool { return a&s != 0 }

func (a AuthScheme) String() string {
	var parts []string
	if a.Has(AuthBearer) {
		parts = append(parts, "bearer")
	}
	if a.Has(AuthAPIKey) {
		parts = append(parts, "apikey")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Endpoint is one candidate URL of the AI backend together with the
// credential headers it expects.
type Endpoint struct {
	URL  string
	Auth AuthScheme
}

// ParseEndpoints turns "url" or "url|auth" entries into an ordered endpoint
// list. Entries without an explicit scheme get def.
func ParseEndpoints(entries []string, def AuthScheme) ([]Endpoint, error) {
	var out []Endpoint
	seen := make(map[string]bool)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		raw, schemeStr, hasScheme := strings.Cut(entry, "|")
		raw = strings.TrimSpace(raw)
		scheme := def
		if hasScheme {
			var err error
			if scheme, err = ParseAuthScheme(schemeStr); err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", raw, err)
			}
		}

		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("endpoint %q: must be an absolute http(s) URL", raw)
		}
		if seen[raw] {
			return nil, fmt.Errorf("endpoint %q listed twice", raw)
		}
		seen[raw] = true

		out = append(out, Endpoint{URL: raw, Auth: scheme})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	return out, nil
}
