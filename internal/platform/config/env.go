// Package config centralizes environment-driven configuration parsing.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// EnvOrDefault returns the first non-empty value among keys, or fallback.
func EnvOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	if lookup == nil {
		return fallback
	}
	for _, key := range keys {
		value, ok := lookup(key)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
