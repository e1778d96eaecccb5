// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"strings"
	"testing"
)

// SkipIfShort skips the test if running in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// BackendURL returns the trimmed value of key. Integration tests target that
// backend when it is set and start a container otherwise.
func BackendURL(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
