package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/harborgrid/beacon/pkg/apierr"
	"github.com/harborgrid/beacon/pkg/logging"
)

// JetStreamConfig configures the durable log stream.
type JetStreamConfig struct {
	URL        string
	StreamName string
	MaxAge     time.Duration
	MaxBytes   int64
	MaxMsgs    int64
}

// JetStreamLog is the production Log backed by a single JetStream stream
// covering the events.> hierarchy.
type JetStreamLog struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	name   string
	logger logging.Logger
}

// ConnectJetStream dials NATS and creates or updates the log stream.
func ConnectJetStream(ctx context.Context, cfg JetStreamConfig, logger logging.Logger) (*JetStreamLog, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("beacon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event log: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{AllFilter()},
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
		Storage:   jetstream.FileStorage,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to provision log stream %s: %w", cfg.StreamName, err)
	}

	logger.WithFields(logging.Fields{
		"stream": cfg.StreamName,
		"url":    cfg.URL,
	}).Info("Connected to event log")

	return &JetStreamLog{nc: nc, js: js, stream: stream, name: cfg.StreamName, logger: logger}, nil
}

// Conn exposes the underlying connection for health checks.
func (l *JetStreamLog) Conn() *nats.Conn { return l.nc }

// Close drains the connection.
func (l *JetStreamLog) Close() {
	if l.nc != nil {
		l.nc.Close()
	}
}

// Append implements Log.
func (l *JetStreamLog) Append(ctx context.Context, subject string, headers map[string]string, data []byte) (AppendAck, error) {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	ack, err := l.js.PublishMsg(ctx, msg)
	if err != nil {
		return AppendAck{}, apierr.Wrap(apierr.CodePublishFailed, "event log append failed", err)
	}
	// The broker does not return its storage timestamp on the ack; the
	// receive time recorded in stream metadata is what consumers see.
	return AppendAck{Sequence: ack.Sequence, Timestamp: time.Now().UTC()}, nil
}

// Subscribe implements Log using an ordered push consumer.
func (l *JetStreamLog) Subscribe(ctx context.Context, filter string, start StartPolicy, h Handler) (Subscription, error) {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
	}
	applyOrderedStart(&cfg, start)

	cons, err := l.stream.OrderedConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to attach log consumer: %w", err)
	}

	cc, err := cons.Consume(func(m jetstream.Msg) {
		msg, err := decodeJetStreamMsg(m)
		if err != nil {
			l.logger.WithError(err).Warn("Discarding undecodable log message")
			return
		}
		h(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start log consume loop: %w", err)
	}

	return jsSubscription{cc: cc}, nil
}

// Fetch implements Log with a short-lived ephemeral consumer that is deleted
// before returning.
func (l *JetStreamLog) Fetch(ctx context.Context, filter string, start StartPolicy, limit int, maxWait time.Duration) ([]Message, error) {
	cfg := jetstream.ConsumerConfig{
		FilterSubject:     filter,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: time.Minute,
	}
	applyConsumerStart(&cfg, start)

	cons, err := l.stream.CreateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay consumer: %w", err)
	}
	defer func() {
		if derr := l.stream.DeleteConsumer(context.WithoutCancel(ctx), cons.CachedInfo().Name); derr != nil {
			l.logger.WithError(derr).Debug("Replay consumer cleanup failed")
		}
	}()

	batch, err := cons.Fetch(limit, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, fmt.Errorf("replay fetch failed: %w", err)
	}

	var out []Message
	for m := range batch.Messages() {
		msg, derr := decodeJetStreamMsg(m)
		if derr != nil {
			continue
		}
		out = append(out, msg)
		_ = m.Ack()
	}
	// A timeout with a partial batch is a success: the caller gets what was
	// retained and available within the wait.
	if err := batch.Error(); err != nil && err != nats.ErrTimeout && len(out) == 0 {
		return nil, fmt.Errorf("replay fetch failed: %w", err)
	}
	return out, nil
}

// Info implements Log.
func (l *JetStreamLog) Info(ctx context.Context) (Info, error) {
	si, err := l.stream.Info(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read stream info: %w", err)
	}
	return Info{
		Name:          l.name,
		Messages:      si.State.Msgs,
		Bytes:         si.State.Bytes,
		FirstSequence: si.State.FirstSeq,
		LastSequence:  si.State.LastSeq,
	}, nil
}

func applyOrderedStart(cfg *jetstream.OrderedConsumerConfig, start StartPolicy) {
	switch start.Kind {
	case StartAll:
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	case StartNew:
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	case StartSequence:
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = start.Sequence
	case StartTime:
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		t := start.Time
		cfg.OptStartTime = &t
	}
}

func applyConsumerStart(cfg *jetstream.ConsumerConfig, start StartPolicy) {
	switch start.Kind {
	case StartAll:
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	case StartNew:
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	case StartSequence:
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = start.Sequence
	case StartTime:
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		t := start.Time
		cfg.OptStartTime = &t
	}
}

func decodeJetStreamMsg(m jetstream.Msg) (Message, error) {
	meta, err := m.Metadata()
	if err != nil {
		return Message{}, fmt.Errorf("missing stream metadata: %w", err)
	}
	headers := make(map[string]string, len(m.Headers()))
	for k := range m.Headers() {
		headers[k] = m.Headers().Get(k)
	}
	return Message{
		Subject:   m.Subject(),
		Headers:   headers,
		Data:      m.Data(),
		Sequence:  meta.Sequence.Stream,
		Timestamp: meta.Timestamp.UTC(),
	}, nil
}

type jsSubscription struct {
	cc jetstream.ConsumeContext
}

// Stop implements Subscription.
func (s jsSubscription) Stop() { s.cc.Stop() }
