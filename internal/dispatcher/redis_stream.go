package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStreamScheduler is the external-queue Scheduler implementation,
// grounded on the original's redis_queue worker: jobs are XADD'ed onto
// a stream, a consumer-group worker pool claims and processes them, and
// a job that exhausts its retry budget is moved to a dead-letter stream
// instead of being dropped.
type RedisStreamScheduler struct {
	client      *redis.Client
	logger      *zap.Logger
	handler     Handler
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	readCount   int64
	blockFor    time.Duration
	claimIdle   time.Duration

	drain *drainState
	stop  chan struct{}
	wg    sync.WaitGroup
}

// RedisStreamConfig bundles the stream/group naming and retry policy
// for a RedisStreamScheduler.
type RedisStreamConfig struct {
	StreamKey     string
	ConsumerGroup string
	MaxAttempts   int
	Workers       int
}

// NewRedisStreamScheduler constructs and starts cfg.Workers consumer
// goroutines against client. The consumer group is created with start
// id "0" (mkstream) so a backlog predating group creation stays
// visible, mirroring the original's _ensure_group.
func NewRedisStreamScheduler(ctx context.Context, client *redis.Client, cfg RedisStreamConfig, handler Handler, logger *zap.Logger) (*RedisStreamScheduler, error) {
	if cfg.StreamKey == "" {
		cfg.StreamKey = "ticket-archiver:jobs"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "ticket-archiver"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	s := &RedisStreamScheduler{
		client:      client,
		logger:      logger,
		handler:     handler,
		stream:      cfg.StreamKey,
		dlqStream:   cfg.StreamKey + ":dlq",
		group:       cfg.ConsumerGroup,
		consumer:    consumerName(),
		maxAttempts: cfg.MaxAttempts,
		readCount:   16,
		blockFor:    2 * time.Second,
		claimIdle:   30 * time.Second,
		drain:       newDrainState(),
		stop:        make(chan struct{}),
	}

	if err := s.ensureGroup(ctx); err != nil {
		return nil, fmt.Errorf("dispatcher: could not create consumer group: %w", err)
	}

	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go s.workerLoop()
	}
	return s, nil
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ticket-archiver"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func (s *RedisStreamScheduler) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

type jobEnvelope struct {
	Payload    map[string]any `json:"payload"`
	DeliveryID string         `json:"delivery_id"`
	RequestID  string         `json:"request_id"`
	TicketID   int64          `json:"ticket_id"`
	Attempt    int            `json:"attempt"`
}

// Submit XADDs job onto the stream as a single JSON-encoded field, the
// way the original packs its payload_json field.
func (s *RedisStreamScheduler) Submit(ctx context.Context, job Job) error {
	if s.drain.isDraining() {
		return ErrDraining
	}
	envelope := jobEnvelope{
		Payload:    job.Payload,
		DeliveryID: job.DeliveryID,
		RequestID:  job.RequestID,
		TicketID:   job.TicketID,
		Attempt:    job.Attempt,
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("dispatcher: could not encode job envelope: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"envelope": string(encoded)},
	}).Err()
}

// Shutdown stops the consumer loops and waits for the in-flight batch
// each is handling to finish, bounded by ctx's deadline.
func (s *RedisStreamScheduler) Shutdown(ctx context.Context) error {
	s.drain.begin()
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	return waitWithDeadline(ctx, done)
}

// IsDraining reports whether Shutdown has begun.
func (s *RedisStreamScheduler) IsDraining() bool {
	return s.drain.isDraining()
}

func (s *RedisStreamScheduler) workerLoop() {
	defer s.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		claimed := s.claimStale(ctx)
		s.processBatch(ctx, claimed)

		pending := s.readOwnPending(ctx)
		s.processBatch(ctx, pending)

		block := s.blockFor
		if len(claimed) > 0 || len(pending) > 0 {
			block = time.Millisecond
		}
		fresh := s.readNew(ctx, block)
		s.processBatch(ctx, fresh)
	}
}

func (s *RedisStreamScheduler) claimStale(ctx context.Context) []redis.XMessage {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Start:  "-",
		End:    "+",
		Count:  s.readCount,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil
	}

	var ids []string
	for _, p := range pending {
		if p.Consumer == s.consumer || p.Idle < s.claimIdle {
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.claimIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil
	}
	return claimed
}

func (s *RedisStreamScheduler) readOwnPending(ctx context.Context) []redis.XMessage {
	return s.readGroup(ctx, "0", time.Millisecond)
}

func (s *RedisStreamScheduler) readNew(ctx context.Context, block time.Duration) []redis.XMessage {
	return s.readGroup(ctx, ">", block)
}

func (s *RedisStreamScheduler) readGroup(ctx context.Context, start string, block time.Duration) []redis.XMessage {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, start},
		Count:    s.readCount,
		Block:    block,
	}).Result()
	if err != nil || len(res) == 0 {
		return nil
	}
	return res[0].Messages
}

func (s *RedisStreamScheduler) processBatch(ctx context.Context, messages []redis.XMessage) {
	for _, msg := range messages {
		s.processOne(ctx, msg)
	}
}

func (s *RedisStreamScheduler) processOne(ctx context.Context, msg redis.XMessage) {
	envelope, err := decodeEnvelope(msg.Values)
	if err != nil {
		s.pushDLQ(ctx, msg.ID, jobEnvelope{}, "invalid_message", err.Error())
		s.ackAndDelete(ctx, msg.ID)
		return
	}

	job := Job{
		TicketID:   envelope.TicketID,
		DeliveryID: envelope.DeliveryID,
		RequestID:  envelope.RequestID,
		Payload:    envelope.Payload,
		Attempt:    envelope.Attempt,
	}

	handlerErr := s.handler(ctx, job)
	if handlerErr == nil {
		s.ackAndDelete(ctx, msg.ID)
		return
	}

	if envelope.Attempt+1 >= s.maxAttempts {
		s.pushDLQ(ctx, msg.ID, envelope, "retry_exhausted", handlerErr.Error())
		s.ackAndDelete(ctx, msg.ID)
		return
	}

	envelope.Attempt++
	retryJob := Job{TicketID: envelope.TicketID, DeliveryID: envelope.DeliveryID, RequestID: envelope.RequestID, Payload: envelope.Payload, Attempt: envelope.Attempt}
	backoff := retryBackoff(envelope.Attempt)
	sleepOrDone(backoff, s.stop)
	if err := s.Submit(ctx, retryJob); err != nil {
		s.logger.Error("dispatcher: could not re-enqueue retry", zap.Error(err))
	}
	s.ackAndDelete(ctx, msg.ID)
}

func retryBackoff(attempt int) time.Duration {
	base := time.Second
	for i := 0; i < attempt && i < 6; i++ {
		base *= 2
	}
	return base
}

func decodeEnvelope(fields map[string]any) (jobEnvelope, error) {
	raw, _ := fields["envelope"].(string)
	var envelope jobEnvelope
	if raw == "" {
		return envelope, fmt.Errorf("dispatcher: message missing envelope field")
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return envelope, fmt.Errorf("dispatcher: could not decode envelope: %w", err)
	}
	return envelope, nil
}

func (s *RedisStreamScheduler) ackAndDelete(ctx context.Context, id string) {
	_ = s.client.XAck(ctx, s.stream, s.group, id).Err()
	_ = s.client.XDel(ctx, s.stream, id).Err()
}

func (s *RedisStreamScheduler) pushDLQ(ctx context.Context, id string, envelope jobEnvelope, reason, errMessage string) {
	encoded, _ := json.Marshal(envelope)
	_ = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dlqStream,
		Values: map[string]any{
			"envelope":  string(encoded),
			"reason":    reason,
			"error":     truncate(errMessage, 500),
			"failed_at": strconv.FormatInt(time.Now().Unix(), 10),
			"source_id": id,
		},
	}).Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
