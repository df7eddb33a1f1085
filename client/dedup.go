package client

import "sync"

const (
	// dedupCapacity bounds the remembered event ID set.
	dedupCapacity = 1000

	// dedupEvictBatch is how many of the oldest IDs are dropped when the
	// set is full.
	dedupEvictBatch = 100
)

// Dedup is the receive-side duplicate filter. Retries and replays re-send
// envelopes with the same event ID; the first arrival is applied, later
// ones are acked but not re-applied.
//
// The set is bounded: when it reaches capacity the oldest batch is
// evicted. An event re-sent after its ID was evicted would be re-applied,
// which the retry and retention windows make practically impossible.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewDedup creates an empty duplicate filter.
func NewDedup() *Dedup {
	return &Dedup{
		seen: make(map[string]struct{}, dedupCapacity),
	}
}

// Remember records the event ID and reports whether it was new. False
// means the event was already seen and must not be re-applied.
func (d *Dedup) Remember(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[eventID]; ok {
		return false
	}

	if len(d.order) >= dedupCapacity {
		evicted := d.order[:dedupEvictBatch]
		for _, old := range evicted {
			delete(d.seen, old)
		}
		d.order = append(d.order[:0], d.order[dedupEvictBatch:]...)
	}

	d.seen[eventID] = struct{}{}
	d.order = append(d.order, eventID)
	return true
}

// Len returns the number of remembered event IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
