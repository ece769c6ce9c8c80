package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger := Setup("vaultd", "test", WithWriter(&buf), WithLevel(slog.LevelInfo))
	logger.Debug("hidden")
	logger.Info("identity stored", MaskField("alias", "alice"), slog.String("network", "testnet"))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["message"] != "identity stored" || entry["severity"] != "INFO" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["service"] != "vaultd" || entry["env"] != "test" {
		t.Fatalf("missing service attributes: %v", entry)
	}
	if entry["alias"] != RedactedValue {
		t.Fatalf("alias should be masked: %v", entry["alias"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", entry)
	}
}

func TestMaskField(t *testing.T) {
	for _, key := range []string{"network", "identity", "session", "policy", "key_id", "purpose", " Network "} {
		if got := MaskField(key, "value"); got.Value.String() != "value" {
			t.Fatalf("vault key %q masked: %v", key, got)
		}
	}
	for _, key := range []string{"alias", "private_key", "passphrase", "wif"} {
		got := MaskField(key, "secret")
		if got.Value.String() != RedactedValue {
			t.Fatalf("sensitive key %q not masked: %v", key, got)
		}
		if got.Key != key {
			t.Fatalf("key renamed: %q", got.Key)
		}
	}
	if got := MaskField("alias", " "); got.Value.String() != " " {
		t.Fatalf("empty value should pass through: %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
