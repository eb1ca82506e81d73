package auth

import (
	"flag"
	"io"
	"testing"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	cfg, err := ParseConfig(fs, nil, lookupFrom(map[string]string{
		"BOOKPLAYER_SESSION_SECRET": "secret",
	}))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Addr != "localhost:8080" {
		t.Errorf("Addr = %q, want localhost:8080", cfg.Addr)
	}
}

func TestParseConfigFlagOverridesEnv(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	cfg, err := ParseConfig(fs, []string{"-addr", ":9000"}, lookupFrom(map[string]string{
		"BOOKPLAYER_AUTH_ADDR":      "localhost:8888",
		"BOOKPLAYER_SESSION_SECRET": "secret",
	}))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q, want :9000", cfg.Addr)
	}
}

func TestParseConfigRequiresSecret(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	if _, err := ParseConfig(fs, nil, lookupFrom(nil)); err == nil {
		t.Error("ParseConfig() without session secret expected an error")
	}
}
