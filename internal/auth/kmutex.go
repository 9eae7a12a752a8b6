package auth

import "sync"

// kmutex is an arena of mutexes keyed by string. Locks are created on
// demand and reclaimed once the last holder releases them, so the arena
// stays proportional to the number of keys currently contended, and
// operations on unrelated keys never block each other.
type kmutex struct {
	mu      sync.Mutex
	entries map[string]*kmutexEntry
}

type kmutexEntry struct {
	mu   sync.Mutex
	refs int
}

func newKmutex() *kmutex {
	return &kmutex{entries: make(map[string]*kmutexEntry)}
}

func (k *kmutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &kmutexEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

func (k *kmutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic("auth: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
