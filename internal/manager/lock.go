package manager

import "sync"

// keyedMutex provides one mutex per bot so crawl and messaging phases never
// overlap for the same bot while different bots proceed in parallel.
// Entries are refcounted and removed once unused.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[int64]*lockEntry)}
}

func (k *keyedMutex) lock(id int64) {
	k.mu.Lock()
	entry, ok := k.entries[id]
	if !ok {
		entry = &lockEntry{}
		k.entries[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

func (k *keyedMutex) unlock(id int64) {
	k.mu.Lock()
	entry := k.entries[id]
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, id)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
