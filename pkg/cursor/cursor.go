// Package cursor encodes resumable replay positions as opaque strings.
// A cursor pins a log sequence plus the message timestamp so clients can
// resume a replay exactly where the previous batch ended.
package cursor

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor identifies a position in the event log.
type Cursor struct {
	Sequence  uint64
	Timestamp time.Time
}

// Encode serializes the cursor to an opaque string for clients.
// Format: base64("seq:{sequence}:ts:{timestamp_ms}")
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("seq:%d:ts:%d", c.Sequence, c.Timestamp.UnixMilli())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Decode parses an encoded cursor string. An empty input yields a nil
// cursor (start from the beginning).
func Decode(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	raw := string(data)
	if !strings.HasPrefix(raw, "seq:") {
		return nil, fmt.Errorf("invalid cursor format: missing seq prefix")
	}

	parts := strings.SplitN(raw[len("seq:"):], ":ts:", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format: missing ts segment")
	}

	seq, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor sequence: %w", err)
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}

	return &Cursor{Sequence: seq, Timestamp: time.UnixMilli(ms)}, nil
}
