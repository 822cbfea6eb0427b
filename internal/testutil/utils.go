package testutil

import (
	"io"
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger prefixed with the test name. Output is
// discarded when HALAQAH_TEST_QUIET is set, and once the test ends so that
// goroutines outliving it stay silent.
func TestLogger(t *testing.T) *log.Logger {
	var out io.Writer = os.Stdout
	if os.Getenv("HALAQAH_TEST_QUIET") != "" {
		out = io.Discard
	}

	logger := log.New(out, "["+t.Name()+"] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}
