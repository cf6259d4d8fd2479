// Package session keeps one live conversation context per owner and rebuilds it from durable stores on demand.
package session

import (
	"sync"

	"github.com/kirillkom/docsense/internal/core/domain"
)

// Registry maps owners to their active session context. The lock is held only for map access.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionContext
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*domain.SessionContext)}
}

func (r *Registry) Get(ownerID string) (*domain.SessionContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.sessions[ownerID]
	return sc, ok
}

// Put registers sc for its owner, replacing any previous context.
func (r *Registry) Put(sc *domain.SessionContext) {
	if sc == nil || sc.OwnerID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sc.OwnerID] = sc
}

func (r *Registry) Evict(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, ownerID)
}

// EvictDocument drops the owner's context only when it is bound to documentID.
func (r *Registry) EvictDocument(ownerID, documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.sessions[ownerID]
	if !ok || sc.DocumentID != documentID {
		return false
	}
	delete(r.sessions, ownerID)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Clear forgets every context, as a process restart would.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*domain.SessionContext)
}
