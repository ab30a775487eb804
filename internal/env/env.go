// Package env provides small helpers for reading configuration
// overrides from the process environment; the gateway's main applies
// them on top of the loaded config, using its values as defaults.
package env

import (
	"os"
	"strconv"
)

// GetEnvOrDefault returns the value of the named environment variable,
// or def if it is unset or empty.
func GetEnvOrDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

// GetEnvBoolOrDefault returns the parsed boolean value of the named
// environment variable, or def if it is unset or unparsable.
func GetEnvBoolOrDefault(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetEnvIntOrDefault returns the parsed integer value of the named
// environment variable, or def if it is unset or unparsable.
func GetEnvIntOrDefault(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
