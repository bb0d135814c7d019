package game

import "sync"

// keyedMutex serializes critical sections per key. Entries are removed once
// the last holder releases, so the registry does not grow with player count.
// This is a single-process optimization only; cross-instance exclusivity for
// round creation is owned by the store's uniqueness constraint.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock acquires the critical section for key and returns its release
// function. Not reentrant.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.sem <- struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}
