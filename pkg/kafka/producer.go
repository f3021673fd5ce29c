package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer used by Producer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes keyed JSON messages. Messages with the same key keep their order.
type Producer struct {
	writer  Writer
	topic   string
	comp    string
	metrics *producerMetrics
}

// NewProducer creates a new Kafka producer.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "snappy",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 10 * time.Millisecond,
		Registerer:   prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            parseCompression(cfg.Compression),
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		ReadTimeout:            cfg.ReadTimeout,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             int64(cfg.BatchBytes),
		BatchTimeout:           cfg.BatchTimeout,
		Async:                  cfg.Async,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, cfg.Compression, cfg.Registerer), nil
}

// NewProducerWithWriter wraps an existing writer. A nil registerer disables metrics.
func NewProducerWithWriter(w Writer, topic, compression string, reg prometheus.Registerer) *Producer {
	p := &Producer{writer: w, topic: topic, comp: compression}
	if reg != nil {
		p.metrics = newProducerMetrics(reg)
	}
	return p
}

// Topic returns the producer's topic.
func (p *Producer) Topic() string {
	return p.topic
}

// Publish sends one message keyed by key.
func (p *Producer) Publish(ctx context.Context, key []byte, value interface{}) error {
	start := time.Now()
	v, err := encode(value)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   key,
		Value: v,
		Time:  time.Now().UTC(),
	}

	err = p.writer.WriteMessages(ctx, msg)
	p.metrics.observe(p.topic, p.comp, int64(len(v)), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func encode(value interface{}) ([]byte, error) {
	switch val := value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		v, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return v, nil
	}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

type producerMetrics struct {
	msgs    *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	f := promauto.With(reg)
	return &producerMetrics{
		msgs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_kafka_producer_messages_total",
				Help: "Total messages published to Kafka",
			},
			[]string{"topic", "compression", "result"},
		),
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_kafka_producer_bytes_total",
				Help: "Total payload bytes published",
			},
			[]string{"topic"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fincast_kafka_producer_publish_seconds",
				Help:    "Publish latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
	}
}

func (m *producerMetrics) observe(topic, comp string, bytes int64, dur time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, context.Canceled) {
			result = "canceled"
		}
	}
	m.msgs.WithLabelValues(topic, comp, result).Inc()
	m.bytes.WithLabelValues(topic).Add(float64(bytes))
	m.latency.WithLabelValues(topic).Observe(dur.Seconds())
}
