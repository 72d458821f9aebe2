// Package ledger implements the in-process fallback buffer used while the
// remote store is unreachable.
//
// Presence of a key in the ledger means "not yet confirmed in the remote
// store". There is no separate replay set: an entry is removed once a
// replay or back-fill lands, or when it expires.
package ledger

import (
	"sync"
	"time"

	"orderpipe/infra/clock"
	"orderpipe/infra/sequence"
)

// Entry is a buffered value and the instant after which it is discarded.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time

	version uint64
}

// Expired reports whether the entry is dead at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Version identifies this exact Put. A later Put for the same key gets a
// higher version.
func (e Entry[V]) Version() uint64 {
	return e.version
}

// Keyed pairs an entry with its key, as returned by Snapshot.
type Keyed[V any] struct {
	Key string
	Entry[V]
}

// Ledger maps keys to buffered entries. All methods are safe for
// concurrent use; each call is atomic with respect to the others.
type Ledger[V any] struct {
	mu      sync.Mutex
	entries map[string]Entry[V]

	clock clock.Clock
	seq   *sequence.Sequencer
}

// New creates an empty ledger. A nil clock means the system clock.
func New[V any](clk clock.Clock) *Ledger[V] {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ledger[V]{
		entries: make(map[string]Entry[V]),
		clock:   clk,
		seq:     sequence.New(0),
	}
}

// Put buffers v under key until now+ttl, replacing any previous entry.
func (l *Ledger[V]) Put(key string, v V, ttl time.Duration) Entry[V] {
	e := Entry[V]{
		Value:     v,
		ExpiresAt: l.clock.Now().Add(ttl),
	}

	// versions are assigned under the lock so the stored entry always
	// carries the highest version issued for its key
	l.mu.Lock()
	e.version = l.seq.Next()
	l.entries[key] = e
	l.mu.Unlock()
	return e
}

// Get returns the entry for key as-is, expired or not.
func (l *Ledger[V]) Get(key string) (Entry[V], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return e, ok
}

// Lookup returns the live entry for key. An expired entry is purged in
// the same critical section and reported as absent.
func (l *Ledger[V]) Lookup(key string) (Entry[V], bool) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return Entry[V]{}, false
	}
	if e.Expired(now) {
		delete(l.entries, key)
		return Entry[V]{}, false
	}
	return e, true
}

// Remove drops key unconditionally.
func (l *Ledger[V]) Remove(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// RemoveIf drops key only if it still holds the entry with the given
// version. It returns false when the entry was replaced or already gone,
// so a slow replay never discards a newer write.
func (l *Ledger[V]) RemoveIf(key string, version uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || e.version != version {
		return false
	}
	delete(l.entries, key)
	return true
}

// Snapshot copies all entries. Order is unspecified.
func (l *Ledger[V]) Snapshot() []Keyed[V] {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Keyed[V], 0, len(l.entries))
	for k, e := range l.entries {
		out = append(out, Keyed[V]{Key: k, Entry: e})
	}
	return out
}

// Len returns the number of buffered entries, live or expired.
func (l *Ledger[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Now exposes the ledger's clock so sweepers judge expiry on the same
// timeline as Put.
func (l *Ledger[V]) Now() time.Time {
	return l.clock.Now()
}
