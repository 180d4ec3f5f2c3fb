// Package userlock provides per-user mutual exclusion. Memory mutations
// and workspace state transitions for the same user share one lock, so
// concurrent chat turns cannot interleave their read-modify-write cycles.
package userlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per key. Entries are reference counted and
// removed once no goroutine holds or waits on them, so the map stays
// proportional to concurrent users rather than total users.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty keyed lock set.
func New() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock acquires the lock for key, blocking until it is available, and
// returns the release function. The caller must invoke the release
// exactly once, typically via defer.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}
