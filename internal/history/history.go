// Package history keeps a bounded, in-memory ledger of recent job
// outcomes so the /jobs surface has something to answer with. It is
// process-local and non-durable, matching the specification's stance on
// distributed job tracking (SPEC_FULL "SUPPLEMENTED FEATURES" 1).
package history

import (
	"sync"
	"time"
)

// Status enumerates the terminal or skip status an entry records.
type Status string

const (
	StatusProcessed         Status = "processed"
	StatusFailedTransient   Status = "failed_transient"
	StatusFailedPermanent   Status = "failed_permanent"
	StatusSkippedInFlight   Status = "skipped_in_flight"
	StatusSkippedIdempotent Status = "skipped_idempotency"
	StatusSkippedNotTrigger Status = "skipped_not_triggered"
	StatusSkippedNoTicketID Status = "skipped_no_ticket_id"
	StatusCancelled         Status = "cancelled"
)

// Entry is one recorded job outcome.
type Entry struct {
	TicketID       int64
	Status         Status
	Classification string
	Message        string
	DeliveryID     string
	RequestID      string
	Timestamp      time.Time
}

// Ledger is a fixed-capacity ring buffer of the most recent entries,
// newest last.
type Ledger struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	next     int
	size     int
}

// NewLedger constructs a ledger holding at most capacity entries. A
// non-positive capacity is treated as 1.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ledger{entries: make([]Entry, capacity), capacity: capacity}
}

// Record appends entry, evicting the oldest one once capacity is reached.
func (l *Ledger) Record(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 means all
// retained entries.
func (l *Ledger) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.size {
		limit = l.size
	}
	out := make([]Entry, 0, limit)
	idx := (l.next - 1 + l.capacity) % l.capacity
	for i := 0; i < limit; i++ {
		out = append(out, l.entries[idx])
		idx = (idx - 1 + l.capacity) % l.capacity
	}
	return out
}

// ForTicket returns the most recent entry recorded for ticketID, if any.
func (l *Ledger) ForTicket(ticketID int64) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := (l.next - 1 + l.capacity) % l.capacity
	for i := 0; i < l.size; i++ {
		if l.entries[idx].TicketID == ticketID {
			return l.entries[idx], true
		}
		idx = (idx - 1 + l.capacity) % l.capacity
	}
	return Entry{}, false
}
