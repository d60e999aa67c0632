package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/harborgrid/beacon/pkg/apierr"
)

// MemoryLog is an in-process Log used by tests and local development. It
// honors the same ordering and start-policy semantics as the JetStream
// implementation.
type MemoryLog struct {
	name    string
	maxMsgs int

	mu       sync.Mutex
	msgs     []Message
	seq      uint64
	firstSeq uint64
	bytes    uint64
	subs     map[int]*memSub
	nextSub  int
	now      func() time.Time
}

// NewMemoryLog builds an empty in-memory log. maxMsgs of zero means
// unbounded retention.
func NewMemoryLog(name string, maxMsgs int) *MemoryLog {
	return &MemoryLog{
		name:     name,
		maxMsgs:  maxMsgs,
		firstSeq: 1,
		subs:     make(map[int]*memSub),
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source. Tests only.
func (l *MemoryLog) SetClock(now func() time.Time) { l.now = now }

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, subject string, headers map[string]string, data []byte) (AppendAck, error) {
	if subject == "" {
		return AppendAck{}, apierr.New(apierr.CodeInternal, "empty log subject")
	}

	l.mu.Lock()
	l.seq++
	msg := Message{
		Subject:   subject,
		Headers:   cloneHeaders(headers),
		Data:      append([]byte(nil), data...),
		Sequence:  l.seq,
		Timestamp: l.now().UTC(),
	}
	l.msgs = append(l.msgs, msg)
	l.bytes += uint64(len(data))
	if l.maxMsgs > 0 && len(l.msgs) > l.maxMsgs {
		evicted := l.msgs[0]
		l.bytes -= uint64(len(evicted.Data))
		l.msgs = l.msgs[1:]
		l.firstSeq = l.msgs[0].Sequence
	}
	for _, sub := range l.subs {
		if matchFilter(sub.filter, subject) {
			sub.enqueue(msg)
		}
	}
	l.mu.Unlock()

	return AppendAck{Sequence: msg.Sequence, Timestamp: msg.Timestamp}, nil
}

// Subscribe implements Log. The backlog selected by the start policy is
// enqueued atomically with registration, so no append is missed or doubled.
func (l *MemoryLog) Subscribe(ctx context.Context, filter string, start StartPolicy, h Handler) (Subscription, error) {
	sub := &memSub{
		filter: filter,
		done:   make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	l.mu.Lock()
	for _, msg := range l.selectLocked(filter, start, 0) {
		sub.queue = append(sub.queue, msg)
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = sub
	l.mu.Unlock()

	go sub.run(ctx, h)

	sub.stop = func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
		sub.close()
	}
	return sub, nil
}

// Fetch implements Log.
func (l *MemoryLog) Fetch(_ context.Context, filter string, start StartPolicy, limit int, _ time.Duration) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selectLocked(filter, start, limit), nil
}

// Info implements Log.
func (l *MemoryLog) Info(context.Context) (Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info := Info{
		Name:     l.name,
		Messages: uint64(len(l.msgs)),
		Bytes:    l.bytes,
	}
	if len(l.msgs) > 0 {
		info.FirstSequence = l.msgs[0].Sequence
		info.LastSequence = l.msgs[len(l.msgs)-1].Sequence
	}
	return info, nil
}

func (l *MemoryLog) selectLocked(filter string, start StartPolicy, limit int) []Message {
	var out []Message
	for _, msg := range l.msgs {
		switch start.Kind {
		case StartNew:
			continue
		case StartSequence:
			if msg.Sequence < start.Sequence {
				continue
			}
		case StartTime:
			if msg.Timestamp.Before(start.Time) {
				continue
			}
		}
		if !matchFilter(filter, msg.Subject) {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

type memSub struct {
	filter string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Message
	closed bool

	done chan struct{}
	once sync.Once
	stop func()
}

func (s *memSub) enqueue(msg Message) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, msg)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memSub) run(ctx context.Context, h Handler) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.close()
			return
		case <-s.done:
			return
		default:
		}
		h(ctx, msg)
	}
}

func (s *memSub) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.done)
	})
}

// Stop implements Subscription.
func (s *memSub) Stop() {
	if s.stop != nil {
		s.stop()
	}
}
