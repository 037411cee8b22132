// Package store persists conversation snapshots.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
)

// ErrNotFound is returned when no snapshot exists for a session.
var ErrNotFound = errors.New("snapshot not found")

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]chat.Snapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]chat.Snapshot)}
}

// Save replaces the snapshot for its session.
func (s *MemoryStore) Save(_ context.Context, snapshot chat.Snapshot) error {
	s.mu.Lock()
	s.items[snapshot.Session.ID] = cloneSnapshot(snapshot)
	s.mu.Unlock()
	return nil
}

// Load returns the snapshot for sessionID.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (chat.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.items[sessionID]
	if !ok {
		return chat.Snapshot{}, ErrNotFound
	}
	return cloneSnapshot(snapshot), nil
}

// Delete drops the snapshot for sessionID. Missing sessions are ignored.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.items, sessionID)
	s.mu.Unlock()
	return nil
}

// List returns every stored session ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]chat.Session, 0, len(s.items))
	for _, snapshot := range s.items {
		sessions = append(sessions, snapshot.Session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

func cloneSnapshot(snapshot chat.Snapshot) chat.Snapshot {
	out := chat.Snapshot{
		Session:  snapshot.Session,
		Messages: make([]chat.Message, 0, len(snapshot.Messages)),
	}
	for _, m := range snapshot.Messages {
		out.Messages = append(out.Messages, m.Clone())
	}
	return out
}
