package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values such as aliases and key material.
const RedactedValue = "[REDACTED]"

// plainKeys are emitted verbatim by MaskField. Identifiers, networks and key
// ids are public on the platform; aliases and key bytes are not.
var plainKeys = map[string]struct{}{
	"service":   {},
	"env":       {},
	"error":     {},
	"reason":    {},
	"component": {},
	"network":   {},
	"identity":  {},
	"session":   {},
	"policy":    {},
	"op":        {},
	"route":     {},
	"key_id":    {},
	"purpose":   {},
}

func isPlain(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute for key that carries value only when key is
// one of the plain vault keys. Empty values pass through unchanged.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || isPlain(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
