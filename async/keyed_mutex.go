package async

import "sync"

// KeyedMutex serialises operations that share a key while leaving
// operations on distinct keys free to run concurrently. Document-level
// state transitions are linearised through it.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[interface{}]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an initialized KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[interface{}]*keyedLock)}
}

// Lock acquires the mutex for the given key, blocking until it is free.
func (k *KeyedMutex) Lock(key interface{}) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the mutex for the given key. The per-key lock is
// discarded once no goroutine waits on it.
func (k *KeyedMutex) Unlock(key interface{}) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if ok {
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		l.mu.Unlock()
	}
}
