package wrapper

import (
	"strings"
	"testing"
	"time"

	"github.com/Intuity/Gator/common/logging"
)

func TestClassifierFirstMatchWins(t *testing.T) {
	classifier := &Classifier{}
	if addErr := classifier.AddRule(`^WARN`, logging.SEVERITY_WARNING); addErr != nil {
		t.Fatal("could not add rule: ", addErr)
	}
	if addErr := classifier.AddRule(`fatal`, logging.SEVERITY_CRITICAL); addErr != nil {
		t.Fatal("could not add rule: ", addErr)
	}

	if got := classifier.Classify("WARN: fatal disk", logging.SEVERITY_INFO); got != logging.SEVERITY_WARNING {
		t.Errorf("expected first rule to win, got %s", got)
	}
	if got := classifier.Classify("a fatal problem", logging.SEVERITY_INFO); got != logging.SEVERITY_CRITICAL {
		t.Errorf("expected second rule to match, got %s", got)
	}
	if got := classifier.Classify("plain output", logging.SEVERITY_INFO); got != logging.SEVERITY_INFO {
		t.Errorf("expected fallback severity, got %s", got)
	}
}

func TestClassifierRejectsBadPattern(t *testing.T) {
	classifier := &Classifier{}
	if addErr := classifier.AddRule(`([`, logging.SEVERITY_ERROR); addErr == nil {
		t.Error("expected an invalid pattern to be rejected")
	}
}

func TestNilClassifierUsesFallback(t *testing.T) {
	var classifier *Classifier
	if got := classifier.Classify("anything", logging.SEVERITY_ERROR); got != logging.SEVERITY_ERROR {
		t.Errorf("expected fallback severity from nil classifier, got %s", got)
	}
}

func TestAsyncLineReaderDeliversPartialFinalLine(t *testing.T) {
	lines := asyncLineReader(strings.NewReader("first\nsecond\npartial"), 10)

	collected := []string{}
	for {
		line := <-lines
		if line == nil {
			break
		}
		collected = append(collected, *line)
	}

	if len(collected) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(collected), collected)
	}
	if collected[2] != "partial" {
		t.Errorf("expected the unterminated final line to be delivered, got '%s'", collected[2])
	}
}

func TestCaptureStreamLogsWithDefaultSeverity(t *testing.T) {
	logger := logging.NewLogger()
	type captured struct {
		severity logging.Severity
		message  string
	}
	entries := make(chan captured, 10)
	logger.SetForward(func(timestamp int64, severity logging.Severity, message string) {
		entries <- captured{severity, message}
	})

	captureStream(strings.NewReader("hello\n\nworld\n"), logging.SEVERITY_ERROR, nil, logger)

	expected := []string{"hello", "world"}
	for _, want := range expected {
		select {
		case entry := <-entries:
			if entry.message != want {
				t.Errorf("expected message '%s', got '%s'", want, entry.message)
			}
			if entry.severity != logging.SEVERITY_ERROR {
				t.Errorf("expected stream default severity, got %s", entry.severity)
			}
		case <-time.After(time.Second):
			t.Fatal("capture did not deliver the expected lines")
		}
	}
	if logger.Count(logging.SEVERITY_ERROR) != 2 {
		t.Errorf("expected empty lines to be dropped, got %d entries",
			logger.Count(logging.SEVERITY_ERROR))
	}
}
