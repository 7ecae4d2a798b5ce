// Package dedup implements the webhook fingerprint deduplicator, C2.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentworker/internal/cronsweep"
)

// defaultTTL and maxTrackedKeys mirror §4.2's "default 10 min" window
// and the bounded-map idiom of internal/channels/ratelimit.go.
const (
	defaultTTL   = 10 * time.Minute
	maxTrackedKeys = 8192
)

type entry struct {
	seenAt time.Time
}

// Deduplicator suppresses repeat webhook deliveries within a TTL
// window. Safe for concurrent use.
type Deduplicator struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
}

// New creates a Deduplicator with the default 10-minute TTL.
func New() *Deduplicator {
	return NewWithTTL(defaultTTL)
}

// NewWithTTL creates a Deduplicator with a custom TTL (tests use a
// short one).
func NewWithTTL(ttl time.Duration) *Deduplicator {
	return &Deduplicator{ttl: ttl, entries: make(map[string]entry)}
}

// Fingerprint hashes (event-type, action, subject-id, revision) into a
// stable short key, per §4.2.
func Fingerprint(eventType, action, subjectID, revision string) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write([]byte(subjectID))
	h.Write([]byte{0})
	h.Write([]byte(revision))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// IsDuplicate reports whether fp was already marked within the TTL
// window, without marking it.
func (d *Deduplicator) IsDuplicate(fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[fp]
	return ok && time.Since(e.seenAt) < d.ttl
}

// MarkIfNew marks fp as seen and reports whether it was new — the
// atomic check-and-set callers need to satisfy "for two webhooks with
// identical fingerprint arriving < TTL apart, exactly the first is
// processed" (§8) without a race between IsDuplicate and a separate
// Mark call.
func (d *Deduplicator) MarkIfNew(fp string) (isNew bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[fp]; ok && time.Since(e.seenAt) < d.ttl {
		return false
	}
	d.entries[fp] = entry{seenAt: time.Now()}
	return true
}

// Sweep evicts entries older than the TTL. Call at most once per
// minute from a background goroutine, per §4.2.
func (d *Deduplicator) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for fp, e := range d.entries {
		if now.Sub(e.seenAt) >= d.ttl {
			delete(d.entries, fp)
		}
	}
	if len(d.entries) >= maxTrackedKeys {
		for len(d.entries) >= maxTrackedKeys {
			for k := range d.entries {
				delete(d.entries, k)
				break
			}
		}
	}
}

// Run sweeps d on a cron schedule until ctx is cancelled, matching the
// teacher's pattern of one owned goroutine per background sweeper.
func (d *Deduplicator) Run(ctx context.Context, cron string) {
	ticker := cronsweep.NewTicker(cron)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}
