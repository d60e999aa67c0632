// Package eventlog provides the append-only, sequence-ordered event log the
// platform publishes into and fans out from. The production implementation
// runs on NATS JetStream; an in-memory implementation backs tests and local
// development.
package eventlog

import (
	"context"
	"time"
)

// Message is one record read back from the log.
type Message struct {
	Subject   string
	Headers   map[string]string
	Data      []byte
	Sequence  uint64
	Timestamp time.Time
}

// AppendAck reports the authoritative position assigned to an appended record.
type AppendAck struct {
	Sequence  uint64
	Timestamp time.Time
}

// Info describes the retained state of the log.
type Info struct {
	Name          string
	Messages      uint64
	Bytes         uint64
	FirstSequence uint64
	LastSequence  uint64
}

// StartKind selects where a read attaches to the log.
type StartKind int

const (
	StartAll StartKind = iota
	StartNew
	StartSequence
	StartTime
)

// StartPolicy positions a consumer on the log.
type StartPolicy struct {
	Kind     StartKind
	Sequence uint64
	Time     time.Time
}

// DeliverAll starts from the oldest retained record.
func DeliverAll() StartPolicy { return StartPolicy{Kind: StartAll} }

// DeliverNew starts from the next record appended after attach.
func DeliverNew() StartPolicy { return StartPolicy{Kind: StartNew} }

// FromSequence starts at the given sequence, inclusive.
func FromSequence(seq uint64) StartPolicy {
	return StartPolicy{Kind: StartSequence, Sequence: seq}
}

// FromTime starts at the first record published at or after t.
func FromTime(t time.Time) StartPolicy {
	return StartPolicy{Kind: StartTime, Time: t}
}

// Handler consumes one message. Returning an error stops nothing; the
// subscription keeps delivering and the handler owns its own recovery.
type Handler func(ctx context.Context, msg Message)

// Subscription is a live attachment to the log.
type Subscription interface {
	Stop()
}

// Log is the append-only event log.
//
// Append is atomic per subject hierarchy: the returned sequence is assigned
// by the log and is strictly increasing. Fetch reads a bounded batch and
// detaches; Subscribe follows the log until stopped. Filters use the log's
// subject grammar ('*' matches one token, '>' matches the rest).
type Log interface {
	Append(ctx context.Context, subject string, headers map[string]string, data []byte) (AppendAck, error)
	Subscribe(ctx context.Context, filter string, start StartPolicy, h Handler) (Subscription, error)
	Fetch(ctx context.Context, filter string, start StartPolicy, limit int, maxWait time.Duration) ([]Message, error)
	Info(ctx context.Context) (Info, error)
}

// Header keys carried on every appended record.
const (
	HeaderEventID     = "Beacon-Event-Id"
	HeaderTenantID    = "Beacon-Tenant-Id"
	HeaderProjectID   = "Beacon-Project-Id"
	HeaderTopic       = "Beacon-Topic"
	HeaderPublishedAt = "Beacon-Published-At"
)
