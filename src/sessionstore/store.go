// Package sessionstore persists agent conversation metadata as a flat JSON
// file, one file per persona so two personas never collide on session ids.
// The store is best-effort convenience state: a missing or corrupt file reads
// as empty rather than failing the caller.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Session is one resumable conversation thread. The id is assigned by the
// agent subprocess, not by this system.
type Session struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	FirstMessage string    `json:"first_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// fileFormat is the on-disk shape. Insertion order is preserved so recency
// ties can be broken deterministically.
type fileFormat struct {
	Sessions []Session `json:"sessions"`
}

// Store is a durable session_id -> Session mapping backed by a single JSON
// file. Reads load the whole file; mutations rewrite it under a lock.
type Store struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New creates a Store at path on fs.
func New(fs afero.Fs, path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fs:     fs,
		path:   path,
		logger: logger.With("component", "sessionstore", "path", path),
		now:    time.Now,
	}
}

// List returns all sessions sorted by updated_at descending, ties broken by
// insertion order. Listing never mutates the store.
func (s *Store) List() ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	sessions := make([]Session, len(data.Sessions))
	copy(sessions, data.Sessions)

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Get returns the session with the given id, or false if it is not stored.
func (s *Store) Get(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.load().Sessions {
		if sess.SessionID == sessionID {
			return sess, true
		}
	}
	return Session{}, false
}

// Upsert inserts or updates the session with the given id. On update only
// name, first_message and updated_at change; created_at is preserved.
func (s *Store) Upsert(sessionID, name, firstMessage string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	now := s.now()

	for i := range data.Sessions {
		if data.Sessions[i].SessionID == sessionID {
			data.Sessions[i].Name = name
			if firstMessage != "" {
				data.Sessions[i].FirstMessage = firstMessage
			}
			data.Sessions[i].UpdatedAt = now
			if err := s.write(data); err != nil {
				return Session{}, err
			}
			return data.Sessions[i], nil
		}
	}

	sess := Session{
		SessionID:    sessionID,
		Name:         name,
		FirstMessage: firstMessage,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	data.Sessions = append(data.Sessions, sess)
	if err := s.write(data); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Delete removes the session and reports whether it existed. Agent-side
// conversation history is untouched.
func (s *Store) Delete(sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	kept := data.Sessions[:0]
	found := false
	for _, sess := range data.Sessions {
		if sess.SessionID == sessionID {
			found = true
			continue
		}
		kept = append(kept, sess)
	}
	if !found {
		return false, nil
	}
	data.Sessions = kept
	if err := s.write(data); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) load() fileFormat {
	var data fileFormat
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("session file is corrupt, treating as empty", "error", err)
		return fileFormat{}
	}
	return data
}

// write rewrites the whole file via a temp file and rename so a crash
// mid-write never leaves a half-written store.
func (s *Store) write(data fileFormat) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
