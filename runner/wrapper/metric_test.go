package wrapper

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/Intuity/Gator/common/logging"
	"github.com/Intuity/Gator/common/logstore"
	"github.com/Intuity/Gator/common/protocol"
)

func testWrapperWithStore(t *testing.T) *Wrapper {
	leaf := New(Options{
		Ident:  "job",
		Logger: logging.NewLogger(),
	})
	store, openErr := logstore.Open(filepath.Join(t.TempDir(), "db.sqlite"))
	if openErr != nil {
		t.Fatal("could not open store: ", openErr)
	}
	t.Cleanup(func() { store.Close() })
	leaf.store = store
	return leaf
}

func metricPayload(name string, value int64) json.RawMessage {
	payload, _ := json.Marshal(protocol.MetricPayload{Name: name, Value: value})
	return payload
}

func TestMetricRecordsAndReplaces(t *testing.T) {
	leaf := testWrapperWithStore(t)

	_, firstErr := leaf.handleMetric(nil, metricPayload("lint_warnings", 5))
	if firstErr != nil {
		t.Fatal("metric failed unexpectedly: ", firstErr)
	}
	_, secondErr := leaf.handleMetric(nil, metricPayload("lint_warnings", 12))
	if secondErr != nil {
		t.Fatal("metric failed unexpectedly: ", secondErr)
	}

	if leaf.metrics["lint_warnings"] != 12 {
		t.Errorf("expected last write to win, got %d", leaf.metrics["lint_warnings"])
	}

	metrics := leaf.assembleMetrics(false, false)
	if metrics["lint_warnings"] != 12 {
		t.Error("expected the user metric to appear in the next update")
	}
	if metrics["sub_total"] != 1 || metrics["sub_active"] != 1 {
		t.Errorf("expected the leaf's own counters, got %v", metrics)
	}
}

func TestMetricRejectsReservedNamespaces(t *testing.T) {
	leaf := testWrapperWithStore(t)

	for _, name := range []string{"sub_total", "sub_anything", "msg_error", "msg_custom"} {
		_, metricErr := leaf.handleMetric(nil, metricPayload(name, 1))
		if metricErr == nil {
			t.Errorf("expected reserved name '%s' to be rejected", name)
		}
	}
}

func TestMetricRejectsEmptyName(t *testing.T) {
	leaf := testWrapperWithStore(t)

	_, metricErr := leaf.handleMetric(nil, metricPayload("", 1))
	if metricErr == nil {
		t.Error("expected an empty metric name to be rejected")
	}
}
