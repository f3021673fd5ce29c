package repository

import (
	"context"
	"fmt"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	pkgkafka "FinCast/pkg/kafka"
	applogger "FinCast/pkg/logger"
)

// KafkaEventPublisher publishes events keyed by symbol so one symbol's events stay ordered.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, evt models.Event) error {
	if err := p.producer.Publish(ctx, []byte(evt.Symbol), evt); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// LogEventPublisher writes events to the log. Used when Kafka is disabled.
type LogEventPublisher struct {
	l *applogger.Logger
}

func NewLogEventPublisher(l *applogger.Logger) *LogEventPublisher {
	if l == nil {
		l = applogger.Nop()
	}
	return &LogEventPublisher{l: l}
}

func (p *LogEventPublisher) Publish(_ context.Context, evt models.Event) error {
	p.l.Debug("event",
		applogger.String("type", string(evt.Type)),
		applogger.String("symbol", evt.Symbol),
		applogger.String("model_id", evt.ModelID),
	)
	return nil
}

func (p *LogEventPublisher) Close() error { return nil }

var (
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ domrepo.EventPublisher = (*LogEventPublisher)(nil)
)
