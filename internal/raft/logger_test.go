package raft

import (
	"log/slog"
	"testing"
)

// testLogger discards output; failures surface through assertions, not
// log lines.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
