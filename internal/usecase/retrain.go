package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	"FinCast/internal/service/ratelimit"
	"FinCast/pkg/cache"
	"FinCast/pkg/logger"
	"FinCast/pkg/queue"
)

// RetrainJobType is the queue message type for model retraining.
const RetrainJobType = "model.retrain"

// RetrainPayload is the queued retrain request.
type RetrainPayload struct {
	ModelID     string    `json:"model_id"`
	DaysBack    int       `json:"days_back,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// RetrainJob handles model.retrain messages. Returning an error lets the queue retry.
type RetrainJob struct {
	training *TrainingService
	l        *logger.Logger
}

func NewRetrainJob(training *TrainingService, l *logger.Logger) *RetrainJob {
	if l == nil {
		l = logger.Nop()
	}
	return &RetrainJob{training: training, l: l}
}

func (j *RetrainJob) Name() string { return "retrain-model" }

func (j *RetrainJob) Type() string { return RetrainJobType }

func (j *RetrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[RetrainPayload](payload)
	if err != nil {
		return err
	}
	rec, err := j.training.Retrain(ctx, p.ModelID, p.DaysBack, nil)
	switch {
	case errors.Is(err, models.ErrModelNotFound):
		// deleted since it was queued
		j.l.Info("retrain skipped, model gone", logger.String("model_id", p.ModelID))
		return nil
	case err != nil:
		return fmt.Errorf("retrain %s: %w", p.ModelID, err)
	}
	j.l.Info("model retrained",
		logger.String("model_id", rec.ID),
		logger.Float64("rmse", rec.Metrics.RMSE),
	)
	return nil
}

var _ queue.Job = (*RetrainJob)(nil)

// RetrainScheduler enqueues retrains, throttled per model. An optional distributed lock
// suppresses duplicates while a retrain of the same model is already queued.
type RetrainScheduler struct {
	pub     queue.Publisher
	limiter *ratelimit.Limiter
	locks   cache.Service
	lockTTL time.Duration
	l       *logger.Logger
	now     func() time.Time
}

// SchedulerOption configures RetrainScheduler.
type SchedulerOption func(*RetrainScheduler)

// WithDedupLock holds a lock per model for ttl after each submission.
func WithDedupLock(c cache.Service, ttl time.Duration) SchedulerOption {
	return func(s *RetrainScheduler) {
		s.locks = c
		s.lockTTL = ttl
	}
}

func NewRetrainScheduler(pub queue.Publisher, limiter *ratelimit.Limiter, l *logger.Logger, opts ...SchedulerOption) *RetrainScheduler {
	if l == nil {
		l = logger.Nop()
	}
	s := &RetrainScheduler{pub: pub, limiter: limiter, l: l, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit queues a retrain of modelID. It reports false when the request was throttled.
func (s *RetrainScheduler) Submit(ctx context.Context, modelID string) (bool, error) {
	return s.SubmitWithDays(ctx, modelID, 0)
}

// SubmitWithDays is Submit with an explicit history window.
func (s *RetrainScheduler) SubmitWithDays(ctx context.Context, modelID string, daysBack int) (bool, error) {
	if s.limiter != nil && !s.limiter.Allow(modelID) {
		return false, nil
	}
	if s.locks != nil && s.lockTTL > 0 {
		ok, err := s.locks.TryLock(ctx, cache.GenerateKey("retrain:lock", modelID), s.lockTTL)
		if err != nil {
			return false, fmt.Errorf("retrain lock %s: %w", modelID, err)
		}
		if !ok {
			return false, nil
		}
	}
	payload := RetrainPayload{ModelID: modelID, DaysBack: daysBack, RequestedAt: s.now().UTC()}
	if err := s.pub.Enqueue(ctx, RetrainJobType, payload); err != nil {
		return false, fmt.Errorf("enqueue retrain %s: %w", modelID, err)
	}
	s.l.Info("retrain queued", logger.String("model_id", modelID))
	return true, nil
}

var _ RetrainSubmitter = (*RetrainScheduler)(nil)
