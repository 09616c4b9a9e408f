// Package env reads the few variables consulted before config.Load runs.
package env

import (
	"os"
	"strings"
)

// Get trims the variable and falls back when it is unset or blank.
func Get(key, fallback string) string {
	raw, ok := os.LookupEnv(key)
	if raw = strings.TrimSpace(raw); !ok || raw == "" {
		return fallback
	}
	return raw
}

// Is compares the variable to want, ignoring case.
func Is(key, want string) bool {
	return strings.EqualFold(Get(key, ""), want)
}
