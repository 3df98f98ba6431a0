package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(TxnConflicts)
	TxnConflicts.Inc()
	if got := testutil.ToFloat64(TxnConflicts); got != before+1 {
		t.Errorf("TxnConflicts: want %v, got %v", before+1, got)
	}

	committed := TxnFinished.WithLabelValues(OutcomeCommitted)
	before = testutil.ToFloat64(committed)
	committed.Inc()
	if got := testutil.ToFloat64(committed); got != before+1 {
		t.Errorf("TxnFinished{committed}: want %v, got %v", before+1, got)
	}
}

func TestHandler(t *testing.T) {
	GCRuns.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status: want 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mvccdb_gc_runs_total") {
		t.Errorf("expected mvccdb_gc_runs_total in output")
	}
}
