package logic

import "sync"

// KeyedMutex serializes work on the same pull request while letting
// different pull requests proceed concurrently.
//
// The outer mutex protects the map; each key has its own mutex plus a count
// of holders and waiters so entries can be dropped once nobody needs them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until the lock for key is held.
func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the lock for key. Unlocking a key that is not held is a no-op.
func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	l, ok := km.locks[key]
	if !ok || l.refs == 0 {
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(km.locks, key)
	}
	l.mu.Unlock()
}

// size returns the number of keys currently held or waited on.
func (km *KeyedMutex) size() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
