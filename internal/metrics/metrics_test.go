package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if discoveryOutcomesTotal == nil || downloadsTotal == nil ||
		certificateOpsTotal == nil || sessionDurationSeconds == nil ||
		discoveryRunsTotal == nil || queuedEntriesLastPoll == nil ||
		combinationsSkippedTotal == nil || httpRequestDuration == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveDiscoveryOutcome("link_found")
	if val := testutil.ToFloat64(discoveryOutcomesTotal.WithLabelValues("link_found")); val != 1 {
		t.Errorf("Expected link_found counter to be 1, got %f", val)
	}

	ObserveCertificateOp("install", nil)
	if val := testutil.ToFloat64(certificateOpsTotal.WithLabelValues("install", "ok")); val != 1 {
		t.Errorf("Expected install ok counter to be 1, got %f", val)
	}
	ObserveCertificateOp("install", errForTest{})
	if val := testutil.ToFloat64(certificateOpsTotal.WithLabelValues("install", "error")); val != 1 {
		t.Errorf("Expected install error counter to be 1, got %f", val)
	}

	SetQueuedEntries(7)
	if val := testutil.ToFloat64(queuedEntriesLastPoll); val != 7 {
		t.Errorf("Expected queued gauge to be 7, got %f", val)
	}
}

func TestObserversAreSafeBeforeInit(t *testing.T) {
	// Observers are no-ops until Init runs; none of these may panic.
	saved := discoveryOutcomesTotal
	discoveryOutcomesTotal = nil
	defer func() { discoveryOutcomesTotal = saved }()

	ObserveDiscoveryOutcome("no_results")
	ObserveSessionDuration("search", time.Second)
	ObserveHTTPRequest("GET", "/healthz", 200, time.Millisecond)
}

type errForTest struct{}

func (errForTest) Error() string { return "boom" }
