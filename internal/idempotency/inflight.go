package idempotency

import "sync"

// InFlightLock is the process-local per-ticket exclusivity guard (§4.4).
// It never provides cross-instance exclusivity.
type InFlightLock struct {
	mu      sync.Mutex
	inFlight map[int64]struct{}
}

// NewInFlightLock constructs an empty lock set.
func NewInFlightLock() *InFlightLock {
	return &InFlightLock{inFlight: make(map[int64]struct{})}
}

// Release is returned by TryAcquire; it is idempotent and safe to call
// more than once, including from a deferred cleanup path.
type Release func()

// TryAcquire attempts to mark ticketID as in-flight. acquired is false
// when another job already holds the ticket; release is a no-op in that
// case and need not be called, but calling it is harmless.
func (l *InFlightLock) TryAcquire(ticketID int64) (release Release, acquired bool) {
	l.mu.Lock()
	if _, busy := l.inFlight[ticketID]; busy {
		l.mu.Unlock()
		return func() {}, false
	}
	l.inFlight[ticketID] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.inFlight, ticketID)
			l.mu.Unlock()
		})
	}, true
}

// Busy reports whether ticketID currently holds the lock, for tests and
// diagnostics.
func (l *InFlightLock) Busy(ticketID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.inFlight[ticketID]
	return busy
}
