package testutil

import (
	"os"
	"strings"
	"testing"
)

// IsolateEnv unsets every environment variable starting with one of the
// prefixes for the duration of the test, so configuration tests do not
// pick up overrides from the developer's shell.
//
// Example usage:
//
//	IsolateEnv(t, "KEYPAIR_", "GOOGLE_CLOUD_PROJECT")
//	t.Setenv("KEYPAIR_STORE_TYPE", "memory")
//
// Like t.Setenv, it cannot be used in parallel tests.
func IsolateEnv(t *testing.T, prefixes ...string) {
	t.Helper()

	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				// t.Setenv registers the restore; unset afterwards.
				t.Setenv(key, value)
				if err := os.Unsetenv(key); err != nil {
					t.Fatalf("Failed to unset %s: %v", key, err)
				}
				break
			}
		}
	}
}

// SetupTestEnv sets environment variables for the duration of a test.
//
// Example usage:
//
//	SetupTestEnv(t, map[string]string{
//	    "KEYPAIR_STORE_TYPE":   "gcp",
//	    "GOOGLE_CLOUD_PROJECT": "edge-prod",
//	})
func SetupTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()

	for key, value := range vars {
		t.Setenv(key, value)
	}
}
