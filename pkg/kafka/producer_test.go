package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	reg := prometheus.NewRegistry()
	p := NewProducerWithWriter(w, "events", "snappy", reg)

	err := p.Publish(context.Background(), []byte("AAPL"), map[string]int{"n": 1})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "AAPL", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"n":1}`, string(w.msgs[0].Value))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.msgs.WithLabelValues("events", "snappy", "ok")))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerPublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "events", "gzip", nil)

	err := p.Publish(context.Background(), nil, "raw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewProducerRequiresBrokersAndTopic(t *testing.T) {
	_, err := NewProducer(WithTopic("x"))
	assert.Error(t, err)
	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}))
	assert.Error(t, err)
}
