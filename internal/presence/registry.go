// Package presence tracks which users currently hold a live gateway
// connection.
//
// Presence is counted per connection handle: a user stays online while at
// least one of their handles is registered, and removing a stale handle never
// evicts a newer one.
package presence

import (
	"context"
	"sort"
	"sync"
)

// Registry is the presence contract used by the realtime gateway.
//
// Register reports whether the user went from offline to online and
// Unregister whether they went from online to offline, so callers only
// broadcast real transitions.
type Registry interface {
	Register(ctx context.Context, userID int64, connID string) (bool, error)
	Unregister(ctx context.Context, userID int64, connID string) (bool, error)
	IsOnline(ctx context.Context, userID int64) (bool, error)
	OnlineUsers(ctx context.Context) ([]int64, error)
}

// MemoryRegistry is the process-local registry. It is rebuilt empty on every
// restart.
type MemoryRegistry struct {
	mu    sync.RWMutex
	conns map[int64]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{conns: make(map[int64]map[string]struct{})}
}

func (r *MemoryRegistry) Register(_ context.Context, userID int64, connID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
	return !ok, nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, userID int64, connID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false, nil
	}
	if _, exists := set[connID]; !exists {
		return false, nil
	}
	delete(set, connID)
	if len(set) > 0 {
		return false, nil
	}
	delete(r.conns, userID)
	return true, nil
}

func (r *MemoryRegistry) IsOnline(_ context.Context, userID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[userID]
	return ok, nil
}

func (r *MemoryRegistry) OnlineUsers(_ context.Context) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]int64, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}
