package billing

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Deduper answers whether a provider event id was already processed.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// dedupeTTL covers the provider's redelivery window with margin.
const dedupeTTL = 24 * time.Hour

// RedisDeduper dedupes across instances with SETNX.
type RedisDeduper struct {
	client *goredis.Client
}

// NewRedisDeduper builds a redis-backed deduper.
func NewRedisDeduper(client *goredis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

// Seen implements Deduper.
func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "billing:webhook:"+eventID, 1, dedupeTTL).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// MemoryDeduper is the single-instance fallback when redis is not
// configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDeduper builds an in-process deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), now: time.Now}
}

// Seen implements Deduper.
func (d *MemoryDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, at := range d.seen {
		if now.Sub(at) > dedupeTTL {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[eventID]; ok {
		return true, nil
	}
	d.seen[eventID] = now
	return false, nil
}
