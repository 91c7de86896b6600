package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"portaria/internal/model"
)

// DedupeSink forwards only notices it has not published within ttl.
type DedupeSink struct {
	next  Sink
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeSink(next Sink, ttl time.Duration) *DedupeSink {
	return &DedupeSink{next: next, ttl: ttl, now: time.Now, items: make(map[string]time.Time)}
}

func (d *DedupeSink) Publish(ctx context.Context, notices []model.Notice) error {
	fresh := make([]model.Notice, 0, len(notices))
	now := d.now()
	for _, n := range notices {
		if !d.seen(hashNotice(n), now) {
			fresh = append(fresh, n)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	return d.next.Publish(ctx, fresh)
}

func (d *DedupeSink) Close() error {
	return d.next.Close()
}

func (d *DedupeSink) seen(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= d.ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now)
	}
	return false
}

func (d *DedupeSink) compact(now time.Time) {
	for k, ts := range d.items {
		if now.Sub(ts) > d.ttl {
			delete(d.items, k)
		}
	}
}

func hashNotice(n model.Notice) string {
	parts := []string{
		n.Timestamp.UTC().Format(time.RFC3339Nano),
		n.EventType,
		n.ActorOrVehicle,
		n.Notes,
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
