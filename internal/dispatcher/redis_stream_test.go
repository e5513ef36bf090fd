package dispatcher

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetryBackoff_DoublesUpToCap(t *testing.T) {
	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{6, 64 * time.Second},
		{20, 64 * time.Second}, // capped beyond the sixth doubling
	}
	for _, tc := range cases {
		if got := retryBackoff(tc.attempt); got != tc.expected {
			t.Fatalf("retryBackoff(%d) = %v, want %v", tc.attempt, got, tc.expected)
		}
	}
}

func TestDecodeEnvelope_RoundTripsJSON(t *testing.T) {
	fields := map[string]any{
		"envelope": `{"payload":{"ticket_id":42},"delivery_id":"d-1","request_id":"r-1","ticket_id":42,"attempt":2}`,
	}
	envelope, err := decodeEnvelope(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if envelope.TicketID != 42 || envelope.DeliveryID != "d-1" || envelope.Attempt != 2 {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestDecodeEnvelope_MissingField(t *testing.T) {
	_, err := decodeEnvelope(map[string]any{})
	if err == nil {
		t.Fatalf("expected an error for a missing envelope field")
	}
}

func TestDecodeEnvelope_InvalidJSON(t *testing.T) {
	_, err := decodeEnvelope(map[string]any{"envelope": "not json"})
	if err == nil {
		t.Fatalf("expected an error for malformed envelope JSON")
	}
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Fatalf("expected BUSYGROUP prefix to be recognised")
	}
	if isBusyGroup(errors.New("some other redis error")) {
		t.Fatalf("did not expect an unrelated error to be classified as busy-group")
	}
	if isBusyGroup(nil) {
		t.Fatalf("nil error must not be classified as busy-group")
	}
}

func TestConsumerName_IsStableAndNonEmpty(t *testing.T) {
	first := consumerName()
	second := consumerName()
	if first == "" {
		t.Fatalf("expected a non-empty consumer name")
	}
	if first != second {
		t.Fatalf("expected consumerName to be stable within one process, got %q then %q", first, second)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("expected short string to pass through unchanged, got %q", got)
	}
	if got := truncate(strings.Repeat("a", 20), 5); got != "aaaaa" {
		t.Fatalf("expected truncation to 5 chars, got %q", got)
	}
}
