// Package keymutex provides a mutex per string key. Writers that follow a
// load-mutate-save cycle on the same aggregate (one user's goal state, one
// contest) take the key's mutex so their cycles never interleave, while
// unrelated keys stay concurrent.
package keymutex

import "sync"

// KeyMutex hands out one mutex per key.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyMutex.
func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for the key and returns the unlock function.
// Entries are reference-counted and dropped when the last holder unlocks,
// so the map does not grow with the number of keys ever seen.
func (m *KeyMutex) Lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Held reports how many keys currently have live entries. Test hook.
func (m *KeyMutex) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
