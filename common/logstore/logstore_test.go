package logstore

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	store, openErr := Open(filepath.Join(t.TempDir(), "db.sqlite"))
	if openErr != nil {
		t.Fatal("could not open store: ", openErr)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLogEntryUidsAreContiguous(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().Unix()
	for i := 0; i < 5; i++ {
		uid, pushErr := store.PushLogEntry(now, 20, "message")
		if pushErr != nil {
			t.Fatal("push failed unexpectedly: ", pushErr)
		}
		if uid != int64(i+1) {
			t.Errorf("expected uid %d, got %d", i+1, uid)
		}
	}

	entries, readErr := store.Messages(0, 0)
	if readErr != nil {
		t.Fatal("read failed unexpectedly: ", readErr)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Uid != int64(i+1) {
			t.Errorf("expected uid %d at position %d, got %d", i+1, i, entry.Uid)
		}
	}
}

func TestDuplicateLogEntriesAreNotDeduped(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().Unix()
	store.PushLogEntry(now, 20, "same message")
	store.PushLogEntry(now, 20, "same message")

	total, countErr := store.MessageCount()
	if countErr != nil {
		t.Fatal("count failed unexpectedly: ", countErr)
	}
	if total != 2 {
		t.Errorf("expected 2 entries, got %d", total)
	}
}

func TestMessagesAfterAndLimit(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().Unix()
	for i := 0; i < 10; i++ {
		store.PushLogEntry(now, 20, "entry")
	}

	entries, readErr := store.Messages(4, 3)
	if readErr != nil {
		t.Fatal("read failed unexpectedly: ", readErr)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Uid != 5 || entries[2].Uid != 7 {
		t.Errorf("expected uids 5..7, got %d..%d", entries[0].Uid, entries[2].Uid)
	}
}

func TestMetricUpsertIsLastWriteWins(t *testing.T) {
	store := openTestStore(t)

	store.SetMetric("lint_warnings", 5, 100)
	store.SetMetric("lint_warnings", 12, 200)

	metrics, readErr := store.Metrics()
	if readErr != nil {
		t.Fatal("read failed unexpectedly: ", readErr)
	}
	if metrics["lint_warnings"] != 12 {
		t.Errorf("expected latest value 12, got %d", metrics["lint_warnings"])
	}
	if len(metrics) != 1 {
		t.Errorf("expected a single metric row, got %d", len(metrics))
	}
}

func TestAttributesUpsert(t *testing.T) {
	store := openTestStore(t)

	store.SetAttribute("exit", "0")
	store.SetAttribute("exit", "1")
	store.SetAttribute("host", "testbox")

	attributes, readErr := store.Attributes()
	if readErr != nil {
		t.Fatal("read failed unexpectedly: ", readErr)
	}
	if attributes["exit"] != "1" {
		t.Errorf("expected exit attribute '1', got '%s'", attributes["exit"])
	}
	if attributes["host"] != "testbox" {
		t.Errorf("expected host attribute 'testbox', got '%s'", attributes["host"])
	}
}

func TestResourceSamplesReadBackInOrder(t *testing.T) {
	store := openTestStore(t)

	store.PushResource(ResourceSample{Timestamp: 100, CpuPercent: 50.0, RssBytes: 1024})
	store.PushResource(ResourceSample{Timestamp: 200, CpuPercent: 75.0, RssBytes: 2048})

	samples, readErr := store.Resources()
	if readErr != nil {
		t.Fatal("read failed unexpectedly: ", readErr)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Timestamp != 100 || samples[1].RssBytes != 2048 {
		t.Error("samples did not read back in timestamp order")
	}
}

func TestOpenReadOnlySeesExistingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	store, openErr := Open(path)
	if openErr != nil {
		t.Fatal("could not open store: ", openErr)
	}
	store.PushLogEntry(100, 40, "boom")
	store.Close()

	reader, reopenErr := OpenReadOnly(path)
	if reopenErr != nil {
		t.Fatal("could not re-open store: ", reopenErr)
	}
	defer reader.Close()

	entries, readErr := reader.Messages(0, 0)
	if readErr != nil {
		t.Fatal("read failed unexpectedly: ", readErr)
	}
	if len(entries) != 1 || entries[0].Message != "boom" {
		t.Error("expected the archived entry to be readable")
	}
}
