package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
)

const sessionPrefix = "session:"

// PebbleStore keeps one JSON snapshot per session in a Pebble database.
// Keys have the form session:<sessionID>.
type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger
}

// OpenPebble opens (or creates) a Pebble database at path.
func OpenPebble(path string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	logger := slog.Default().With("component", "store")
	logger.Info("opening pebble store", "path", path)
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Save writes the snapshot synchronously.
func (s *PebbleStore) Save(_ context.Context, snapshot chat.Snapshot) error {
	if snapshot.Session.ID == "" {
		return fmt.Errorf("snapshot has no session id")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snapshot.Session.ID, err)
	}
	if err := s.db.Set(sessionKey(snapshot.Session.ID), data, pebble.Sync); err != nil {
		s.logger.Error("pebble save failed", "session", snapshot.Session.ID, "error", err)
		return fmt.Errorf("save snapshot %s: %w", snapshot.Session.ID, err)
	}
	return nil
}

// Load reads the snapshot for sessionID.
func (s *PebbleStore) Load(_ context.Context, sessionID string) (chat.Snapshot, error) {
	value, closer, err := s.db.Get(sessionKey(sessionID))
	if errors.Is(err, pebble.ErrNotFound) {
		return chat.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return chat.Snapshot{}, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}
	defer closer.Close()

	var snapshot chat.Snapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return chat.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return snapshot, nil
}

// Delete removes the snapshot for sessionID.
func (s *PebbleStore) Delete(_ context.Context, sessionID string) error {
	if err := s.db.Delete(sessionKey(sessionID), pebble.Sync); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	return nil
}

// List returns the sessions of every stored snapshot in key order.
func (s *PebbleStore) List(_ context.Context) ([]chat.Session, error) {
	prefix := []byte(sessionPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var sessions []chat.Session
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var snapshot struct {
			Session chat.Session `json:"session"`
		}
		if err := json.Unmarshal(iter.Value(), &snapshot); err != nil {
			s.logger.Warn("skipping undecodable snapshot", "key", string(iter.Key()), "error", err)
			continue
		}
		sessions = append(sessions, snapshot.Session)
	}
	return sessions, iter.Error()
}

func sessionKey(sessionID string) []byte {
	return []byte(sessionPrefix + sessionID)
}
