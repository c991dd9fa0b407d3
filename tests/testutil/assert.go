package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertNoKeyMaterial verifies that output carries no PEM armour and none
// of the base64 body lines of the given PEM values.
//
// Example usage:
//
//	AssertNoKeyMaterial(t, logs, privatePEM)
func AssertNoKeyMaterial(t *testing.T, output string, pems ...string) {
	t.Helper()

	assert.NotContains(t, output, "-----BEGIN", "PEM armour found in output")
	assert.NotContains(t, output, "PRIVATE KEY", "private key marker found in output")

	for _, pem := range pems {
		for _, line := range strings.Split(pem, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "-----") {
				continue
			}
			if strings.Contains(output, line) {
				t.Errorf("key material line %.12q... found in output", line)
				return
			}
		}
	}
}

// AssertFileMode verifies that path exists with exactly the given
// permission bits.
func AssertFileMode(t *testing.T, path string, mode os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err, "Failed to stat %s", path)
	assert.Equal(t, mode, info.Mode().Perm(), "Unexpected mode for %s", path)
}
