package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InProcessScheduler is a bounded worker pool: a fixed number of
// goroutines drain a buffered channel and invoke Handler for each Job,
// generalizing the teacher's synchronous pub/sub dispatcher into
// concurrent, capacity-limited execution.
type InProcessScheduler struct {
	handler Handler
	logger  *zap.Logger
	queue   chan Job
	wg      sync.WaitGroup
	drain   *drainState
}

// NewInProcessScheduler starts maxConcurrency worker goroutines backed
// by a queue of queueCapacity buffered jobs. handler is invoked once per
// submitted job; its error is logged, never propagated to the submitter.
func NewInProcessScheduler(maxConcurrency, queueCapacity int, handler Handler, logger *zap.Logger) *InProcessScheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	s := &InProcessScheduler{
		handler: handler,
		logger:  logger,
		queue:   make(chan Job, queueCapacity),
		drain:   newDrainState(),
	}
	s.wg.Add(maxConcurrency)
	for i := 0; i < maxConcurrency; i++ {
		go s.worker()
	}
	return s
}

func (s *InProcessScheduler) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		if err := s.handler(context.Background(), job); err != nil {
			s.logger.Error("dispatcher: job handler returned an error",
				zap.Int64("ticket_id", job.TicketID),
				zap.String("delivery_id", job.DeliveryID),
				zap.Error(err),
			)
		}
	}
}

// Submit buffers job onto the queue without blocking. It fails with
// ErrDraining once Shutdown has begun, and with ErrQueueFull once the
// buffer is saturated.
func (s *InProcessScheduler) Submit(_ context.Context, job Job) error {
	if s.drain.isDraining() {
		return ErrDraining
	}
	select {
	case s.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting new jobs, closes the queue, and waits for
// every worker to finish draining it, bounded by ctx's deadline.
func (s *InProcessScheduler) Shutdown(ctx context.Context) error {
	s.drain.begin()
	close(s.queue)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	return waitWithDeadline(ctx, done)
}

// IsDraining reports whether Shutdown has begun, for the ingress
// layer's ShuttingDown middleware.
func (s *InProcessScheduler) IsDraining() bool {
	return s.drain.isDraining()
}
