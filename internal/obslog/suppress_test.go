package obslog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSuppressorLogsFirstOccurrenceOnly(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := NewSuppressor(time.Minute)
	s.Noisy(logger, "peer-1-closed", "channel closed")
	s.Noisy(logger, "peer-1-closed", "channel closed")
	s.Noisy(logger, "peer-1-closed", "channel closed")

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "channel closed"))
}

func TestSuppressorFlushReportsSuppressedCount(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := NewSuppressor(time.Minute)
	s.Noisy(logger, "peer-2-closed", "channel closed")
	s.Noisy(logger, "peer-2-closed", "channel closed")
	s.Flush(logger)

	require.Contains(t, buf.String(), "suppressed_count=1")
}

func TestSuppressorReopensAfterWindow(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := NewSuppressor(10 * time.Millisecond)
	s.Noisy(logger, "peer-3-closed", "channel closed")
	time.Sleep(20 * time.Millisecond)
	s.Noisy(logger, "peer-3-closed", "channel closed")

	require.Equal(t, 2, strings.Count(buf.String(), "channel closed"))
}
