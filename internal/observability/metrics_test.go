package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewMetrics registers against the default Prometheus registry via promauto,
// so every test in this package shares a single instance rather than calling
// NewMetrics more than once per process.
var testMetrics = NewMetrics()

func TestRecordRequest_IncrementsCounterAndObservesDuration(t *testing.T) {
	testMetrics.RecordRequest("/ingest", "POST", 202, 15*time.Millisecond)

	val := testutil.ToFloat64(testMetrics.requestsTotal.WithLabelValues("/ingest", "POST", "2xx"))
	if val < 1 {
		t.Fatalf("expected requestsTotal to be incremented, got %f", val)
	}
}

func TestRecordRequest_BucketsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		bucket string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}
	for _, tc := range cases {
		before := testutil.ToFloat64(testMetrics.requestsTotal.WithLabelValues("/bucket-test", "GET", tc.bucket))
		testMetrics.RecordRequest("/bucket-test", "GET", tc.status, time.Millisecond)
		after := testutil.ToFloat64(testMetrics.requestsTotal.WithLabelValues("/bucket-test", "GET", tc.bucket))
		if after != before+1 {
			t.Fatalf("status %d: expected bucket %q to increment by 1, went from %f to %f", tc.status, tc.bucket, before, after)
		}
	}
}

func TestRecordRequest_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/whatever", "GET", 200, time.Millisecond) // must not panic
}

func TestRecordError_IncrementsErrorsTotal(t *testing.T) {
	before := testutil.ToFloat64(testMetrics.errorsTotal.WithLabelValues("/ingest", "POST", "validation_failed"))
	testMetrics.RecordError("/ingest", "POST", "validation_failed")
	after := testutil.ToFloat64(testMetrics.errorsTotal.WithLabelValues("/ingest", "POST", "validation_failed"))
	if after != before+1 {
		t.Fatalf("expected errorsTotal to increment by 1, went from %f to %f", before, after)
	}
}

func TestRecordError_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordError("/whatever", "GET", "internal_error") // must not panic
}

func TestJobsProcessedTotal_CountsThroughPublicField(t *testing.T) {
	before := testutil.ToFloat64(testMetrics.JobsProcessedTotal)
	testMetrics.JobsProcessedTotal.Inc()
	after := testutil.ToFloat64(testMetrics.JobsProcessedTotal)
	if after != before+1 {
		t.Fatalf("expected JobsProcessedTotal to increment by 1, went from %f to %f", before, after)
	}
}

func TestJobsFailedTotal_LabelsByCodeAndClassification(t *testing.T) {
	before := testutil.ToFloat64(testMetrics.JobsFailedTotal.WithLabelValues("tms_auth", "transient"))
	testMetrics.JobsFailedTotal.WithLabelValues("tms_auth", "transient").Inc()
	after := testutil.ToFloat64(testMetrics.JobsFailedTotal.WithLabelValues("tms_auth", "transient"))
	if after != before+1 {
		t.Fatalf("expected JobsFailedTotal to increment by 1, went from %f to %f", before, after)
	}
}

func TestJobsSkippedTotal_LabelsByReason(t *testing.T) {
	before := testutil.ToFloat64(testMetrics.JobsSkippedTotal.WithLabelValues("idempotent"))
	testMetrics.JobsSkippedTotal.WithLabelValues("idempotent").Inc()
	after := testutil.ToFloat64(testMetrics.JobsSkippedTotal.WithLabelValues("idempotent"))
	if after != before+1 {
		t.Fatalf("expected JobsSkippedTotal to increment by 1, went from %f to %f", before, after)
	}
}

func TestJobDurationSeconds_ObservesWithoutPanicking(t *testing.T) {
	countBefore := testutil.CollectAndCount(testMetrics.JobDurationSeconds)
	testMetrics.JobDurationSeconds.Observe(1.5)
	countAfter := testutil.CollectAndCount(testMetrics.JobDurationSeconds)
	if countAfter != countBefore {
		t.Fatalf("expected JobDurationSeconds collector count to remain stable, got %d then %d", countBefore, countAfter)
	}
}

func TestStatusBucket_CoversAllRanges(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{199, "2xx"},
		{200, "2xx"},
		{302, "3xx"},
		{422, "4xx"},
		{500, "5xx"},
	}
	for _, tc := range cases {
		if got := statusBucket(tc.status); got != tc.want {
			t.Fatalf("statusBucket(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}
