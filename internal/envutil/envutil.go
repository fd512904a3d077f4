package envutil

import "os"

// Get retrieves an environment variable with automatic CODELOFT_ prefix fallback.
// It checks for the environment variable in this order:
// 1. Exact key as provided
// 2. Key with CODELOFT_ prefix
// 3. Returns fallback if neither exists
//
// This supports both PaaS-style (CODELOFT_ prefixed) and local dev (unprefixed) configurations.
func Get(key, fallback string) string {
	// Try exact key first (supports both prefixed and unprefixed)
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	// Try with CODELOFT_ prefix if not already prefixed
	if len(key) < 9 || key[:9] != "CODELOFT_" {
		if value, exists := os.LookupEnv("CODELOFT_" + key); exists {
			return value
		}
	}

	return fallback
}
