package service

import (
	"fmt"
	"sync"

	"github.com/medisync/medisync-go/internal/model"
)

// keyLocks serializes applies per (entity_type, entity_id). Changes to
// different keys proceed concurrently; changes to the same key queue
// up behind one mutex.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func entityKey(entityType model.EntityType, entityID int64) string {
	return fmt.Sprintf("%s/%d", entityType, entityID)
}

// Lock acquires the mutex for a key, creating it on first use.
func (kl *keyLocks) Lock(key string) {
	kl.mu.Lock()
	l, ok := kl.locks[key]
	if !ok {
		l = &keyLock{}
		kl.locks[key] = l
	}
	l.refs++
	kl.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the key's mutex and drops the lock once nobody
// holds or waits on it, so the map does not grow with every entity
// ever synced.
func (kl *keyLocks) Unlock(key string) {
	kl.mu.Lock()
	l := kl.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(kl.locks, key)
	}
	kl.mu.Unlock()

	l.mu.Unlock()
}
