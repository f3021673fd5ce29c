package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"FinCast/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis list backed work queue with a ZSET retry schedule and a dead-letter list.
type RedisQueue struct {
	logger    *logger.Logger
	config    *QueueConfig
	client    *redis.Client
	jobs      map[string]Job
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
	observer  Observer
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// WithObserver reports job outcomes, typically to metrics.
func WithObserver(o Observer) RedisQueueOption {
	return func(r *RedisQueue) {
		r.observer = o
	}
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	cfg := QueueConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	rq := &RedisQueue{
		logger:    lgr,
		config:    &cfg,
		client:    client,
		jobs:      make(map[string]Job),
		keyPrefix: "fincast:queue",
	}

	for _, opt := range opts {
		opt(rq)
	}

	return rq
}

// RegisterJob registers a handler for its message type.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}

	r.jobs[job.Type()] = job
	r.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start pings Redis and launches workers plus the retry processor.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.isRunning = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryProcessor()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("addr", r.client.Options().Addr))
	return nil
}

// Stop cancels workers and waits for in-flight jobs until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue adds a message for a registered job type.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := r.client.LPush(ctx, r.getQueueKey(), msgData).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// Stats returns pending, retrying and dead-lettered message counts.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.getQueueKey())
	retrying := pipe.ZCard(ctx, r.getRetryKey())
	dead := pipe.LLen(ctx, r.getDeadLetterKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Retrying: retrying.Val(), DeadLetter: dead.Val()}, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started", logger.Int("worker_id", id))

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("queue worker stopping", logger.Int("worker_id", id))
			return
		default:
			r.processNextMessage()
		}
	}
}

func (r *RedisQueue) processNextMessage() {
	result, err := r.client.BRPop(r.ctx, time.Second, r.getQueueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		r.logger.Error("brpop error", logger.Error(err))
		select {
		case <-r.ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		return
	}

	r.processMessage(msg)
}

func (r *RedisQueue) processMessage(msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job found",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		r.moveToDeadLetterQueue(msg)
		return
	}

	start := time.Now()
	err := r.safeHandle(job, msg)
	elapsed := time.Since(start)

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
		r.logger.Warn("message cancelled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed_ms", elapsed))
		// put it back so another process picks it up
		r.scheduleRetry(msg, time.Now())
	default:
		outcome = "error"
		r.handleProcessingError(msg, job, err)
	}

	if r.observer != nil {
		r.observer(msg.Type, outcome, elapsed.Seconds())
	}
}

func (r *RedisQueue) safeHandle(job Job, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panic: %v", rec)
		}
	}()
	return job.Handle(r.ctx, msg.Payload)
}

func (r *RedisQueue) handleProcessingError(msg Message, job Job, err error) {
	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	msg.LastError = err.Error()
	if msg.Attempts < r.config.RetryLimit {
		msg.Attempts++
		retryTime := time.Now().Add(r.config.RetryDelay)
		r.scheduleRetry(msg, retryTime)
		r.logger.Info("scheduled retry",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempt", msg.Attempts),
			logger.String("retry_at", retryTime.Format(time.RFC3339)))
		return
	}

	r.logger.Error("max retries reached",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()))
	r.moveToDeadLetterQueue(msg)
}

func (r *RedisQueue) scheduleRetry(msg Message, retryTime time.Time) {
	msgData, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}

	err = r.client.ZAdd(context.Background(), r.getRetryKey(), redis.Z{
		Score:  float64(retryTime.Unix()),
		Member: msgData,
	}).Err()
	if err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) moveToDeadLetterQueue(msg Message) {
	msgData, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dlq", logger.Error(err))
		return
	}

	if err := r.client.LPush(context.Background(), r.getDeadLetterKey(), msgData).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.processRetryMessages()
		}
	}
}

func (r *RedisQueue) processRetryMessages() {
	now := float64(time.Now().Unix())

	result, err := r.client.ZRangeByScore(r.ctx, r.getRetryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatFloat(now, 'f', 0, 64),
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("fetch retry messages", logger.Error(err))
		return
	}

	for _, msgData := range result {
		if r.ctx.Err() != nil {
			return
		}

		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.getRetryKey(), msgData)
		pipe.LPush(r.ctx, r.getQueueKey(), msgData)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("move retry to queue", logger.Error(err))
		}
	}
}

func (r *RedisQueue) getQueueKey() string {
	return fmt.Sprintf("%s:messages", r.keyPrefix)
}

func (r *RedisQueue) getRetryKey() string {
	return fmt.Sprintf("%s:retry", r.keyPrefix)
}

func (r *RedisQueue) getDeadLetterKey() string {
	return fmt.Sprintf("%s:dlq", r.keyPrefix)
}

var _ Publisher = (*RedisQueue)(nil)
