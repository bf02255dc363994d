package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSeverityFromString(t *testing.T) {
	cases := map[string]Severity{
		"DEBUG":      SEVERITY_DEBUG,
		"info":       SEVERITY_INFO,
		" Warning ":  SEVERITY_WARNING,
		"ERROR":      SEVERITY_ERROR,
		"critical":   SEVERITY_CRITICAL,
		"whoknows":   SEVERITY_INFO,
	}
	for input, expected := range cases {
		got := SeverityFromString(input)
		if got != expected {
			t.Errorf("expected '%s' to parse as %s, got %s", input, expected, got)
		}
	}
}

func TestSeverityValuesMatchCommonScheme(t *testing.T) {
	if SEVERITY_DEBUG != 10 || SEVERITY_INFO != 20 || SEVERITY_WARNING != 30 ||
		SEVERITY_ERROR != 40 || SEVERITY_CRITICAL != 50 {
		t.Error("severity numeric values must stay at 10/20/30/40/50")
	}
}

func TestLoggerCountsOwnMessagesOnly(t *testing.T) {
	logger := NewLogger()
	logger.Info("own message")
	logger.Error("own error")
	logger.Capture(100, SEVERITY_ERROR, "forwarded error", true)

	if logger.Count(SEVERITY_INFO) != 1 {
		t.Errorf("expected 1 info message, got %d", logger.Count(SEVERITY_INFO))
	}
	if logger.Count(SEVERITY_ERROR) != 1 {
		t.Errorf("expected forwarded entries to be excluded from counts, got %d",
			logger.Count(SEVERITY_ERROR))
	}

	counters := logger.Counters()
	if counters["msg_info"] != 1 || counters["msg_error"] != 1 || counters["msg_debug"] != 0 {
		t.Errorf("unexpected counter snapshot: %v", counters)
	}
}

func TestLoggerForwardsEverything(t *testing.T) {
	logger := NewLogger()
	var forwarded []string
	logger.SetForward(func(timestamp int64, severity Severity, message string) {
		forwarded = append(forwarded, message)
	})

	logger.Info("local")
	logger.Capture(100, SEVERITY_WARNING, "from child", true)

	if len(forwarded) != 2 {
		t.Fatalf("expected both messages to be forwarded, got %d", len(forwarded))
	}
}

func TestConsoleRespectsVerbosity(t *testing.T) {
	logger := NewLogger()
	var console bytes.Buffer
	logger.SetConsole(&console, SEVERITY_WARNING)

	logger.Info("hidden")
	logger.Warning("shown")

	rendered := console.String()
	if strings.Contains(rendered, "hidden") {
		t.Error("expected messages below the verbosity filter to be suppressed")
	}
	if !strings.Contains(rendered, "shown") || !strings.Contains(rendered, "WARNING") {
		t.Errorf("expected the warning to be rendered, got: %s", rendered)
	}
}
