package store

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupSet remembers event ids for a retention window, bounded in size.
type DedupSet struct {
	// mu makes check-and-insert atomic; the LRU alone only guards single calls.
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func NewDedupSet(size int, retention time.Duration) *DedupSet {
	return &DedupSet{
		seen: expirable.NewLRU[string, struct{}](max(size, 1), nil, retention),
	}
}

// MarkSeen records id and reports whether it was new.
// A false result means the event was already seen and must not be re-dispatched.
func (d *DedupSet) MarkSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen.Get(id); ok {
		return false
	}
	d.seen.Add(id, struct{}{})
	return true
}

// Forget removes id so a redelivery of the same event is processed again.
func (d *DedupSet) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
}

func (d *DedupSet) Len() int {
	return d.seen.Len()
}
