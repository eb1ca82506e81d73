package config

import "testing"

func TestParseEnv(t *testing.T) {
	type target struct {
		Addr string `env:"CONFIG_TEST_ADDR" envDefault:"localhost:9000"`
	}

	t.Setenv("CONFIG_TEST_ADDR", "localhost:19000")

	var cfg target
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "localhost:19000" {
		t.Fatalf("expected env value, got %q", cfg.Addr)
	}
}

func TestParseEnvDefault(t *testing.T) {
	type target struct {
		Addr string `env:"CONFIG_TEST_MISSING_ADDR" envDefault:"localhost:9000"`
	}

	var cfg target
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "localhost:9000" {
		t.Fatalf("expected default value, got %q", cfg.Addr)
	}
}

func TestEnvOrDefault(t *testing.T) {
	lookup := func(key string) (string, bool) {
		switch key {
		case "EMPTY":
			return "   ", true
		case "SET":
			return "value", true
		}
		return "", false
	}

	if got := EnvOrDefault(lookup, []string{"MISSING", "EMPTY", "SET"}, "fallback"); got != "value" {
		t.Fatalf("expected first non-empty value, got %q", got)
	}
	if got := EnvOrDefault(lookup, []string{"MISSING"}, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := EnvOrDefault(nil, []string{"SET"}, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback with nil lookup, got %q", got)
	}
}
