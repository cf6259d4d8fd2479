package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type ownerLock struct {
	sem  *semaphore.Weighted
	refs int
}

// ownerLocks serializes work per owner. Entries are dropped once nobody holds or waits on them.
type ownerLocks struct {
	mu      sync.Mutex
	entries map[string]*ownerLock
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{entries: make(map[string]*ownerLock)}
}

func (l *ownerLocks) lock(ctx context.Context, ownerID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[ownerID]
	if !ok {
		entry = &ownerLock{sem: semaphore.NewWeighted(1)}
		l.entries[ownerID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.release(ownerID, entry)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.release(ownerID, entry)
		})
	}, nil
}

func (l *ownerLocks) release(ownerID string, entry *ownerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, ownerID)
	}
}

func (l *ownerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
