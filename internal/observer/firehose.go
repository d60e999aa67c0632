package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/harborgrid/beacon/pkg/logging"
)

// FirehoseSink batches observer events onto a Kafka topic for the ops
// pipeline. It buffers in memory and flushes periodically; a full buffer
// drops the oldest events rather than blocking the core.
type FirehoseSink struct {
	client *kgo.Client
	topic  string
	logger logging.Logger

	mu     sync.Mutex
	buffer []Event

	flushInterval time.Duration
	maxBuffer     int
}

// NewFirehoseSink connects a producer for the ops firehose.
func NewFirehoseSink(brokers []string, topic string, logger logging.Logger) (*FirehoseSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("beacon-firehose"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create firehose client: %w", err)
	}
	return &FirehoseSink{
		client:        client,
		topic:         topic,
		logger:        logger,
		flushInterval: 5 * time.Second,
		maxBuffer:     4096,
	}, nil
}

// Observe implements Observer.
func (s *FirehoseSink) Observe(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.mu.Lock()
	s.buffer = append(s.buffer, e)
	if len(s.buffer) > s.maxBuffer {
		s.buffer = s.buffer[len(s.buffer)-s.maxBuffer:]
	}
	s.mu.Unlock()
}

// Run flushes until the context is cancelled, then drains and closes the
// producer.
func (s *FirehoseSink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flush(context.WithoutCancel(ctx))
			s.client.Close()
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *FirehoseSink) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	records := make([]*kgo.Record, 0, len(batch))
	for _, e := range batch {
		value, err := json.Marshal(e)
		if err != nil {
			continue
		}
		records = append(records, &kgo.Record{
			Topic: s.topic,
			Key:   []byte(e.TenantID),
			Value: value,
		})
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.ProduceSync(produceCtx, records...).FirstErr(); err != nil {
		s.logger.WithError(err).WithField("events", len(records)).Warn("Firehose flush failed, batch dropped")
	}
}
