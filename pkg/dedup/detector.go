// Package dedup implements the Duplicate Request Detector: a bounded,
// shared record of recently seen (sender, message-id) pairs used to
// give at-most-once delivery semantics to application messages sent
// through the message bus overlay.
//
// False positives (marking a genuinely unique message as a duplicate)
// are forbidden; false negatives (occasionally failing to catch a
// duplicate, e.g. after LRU eviction) are tolerated.
package dedup

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vzdtic/raftcore/pkg/id"
)

// Key uniquely identifies a logical message: the sender that produced
// it and a message ID the sender guarantees is unique for the
// retention window.
type Key struct {
	SenderID  id.NodeID
	MessageID uint64
}

// Detector atomically records and tests DuplicateKeys. It is safe for
// concurrent use and is meant to be shared node-wide (see spec.md §9
// open question: detection here is node-global, not per-connection).
type Detector struct {
	mu      sync.Mutex
	cache   *lru.Cache[Key, time.Time]
	maxAge  time.Duration
	nowFunc func() time.Time
}

// New builds a Detector retaining at most capacity entries, evicting
// the least recently used key once full. maxAge of zero disables
// age-based eviction (capacity-only retention).
func New(capacity int, maxAge time.Duration) *Detector {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := lru.New[Key, time.Time](capacity)
	if err != nil {
		// Only returned by lru.New for capacity <= 0, already guarded above.
		panic(err)
	}
	return &Detector{
		cache:   c,
		maxAge:  maxAge,
		nowFunc: time.Now,
	}
}

// IsDuplicate atomically records key and reports whether it was
// already present and not yet aged out.
func (d *Detector) IsDuplicate(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	if seenAt, ok := d.cache.Get(key); ok {
		if d.maxAge <= 0 || now.Sub(seenAt) < d.maxAge {
			d.cache.Add(key, now)
			return true
		}
		// Aged out: treat as a new message, refresh its timestamp below.
	}
	d.cache.Add(key, now)
	return false
}

// Len reports the number of currently retained keys, for diagnostics.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Len()
}
