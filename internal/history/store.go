package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/logger"
)

var ErrSessionNotFound = errors.New("session not found")

// Store owns the list of chat sessions and which one is active. Every
// mutation persists a sanitized snapshot to the slot.
type Store struct {
	slot Slot

	mu       sync.RWMutex
	sessions []chat.Session // newest first
	activeID string

	persistMu sync.Mutex
}

// NewStore returns an empty store backed by slot. Call Load before use.
func NewStore(slot Slot) *Store {
	return &Store{slot: slot}
}

// Load restores the previous snapshot. A missing or unreadable snapshot
// starts empty; an empty store gets a fresh session. The first session
// becomes active.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.slot.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	var restored []chat.Session
	if len(data) > 0 {
		var stored []storedSession
		if err := json.Unmarshal(data, &stored); err != nil {
			logger.L.Warn("stored sessions are unreadable; starting empty", "error", err)
		} else {
			restored = restore(stored)
		}
	}

	s.mu.Lock()
	s.sessions = restored
	s.activeID = ""
	if len(s.sessions) > 0 {
		s.activeID = s.sessions[0].ID
	}
	empty := len(s.sessions) == 0
	s.mu.Unlock()

	logger.L.Info("sessions loaded", "count", len(restored))
	if empty {
		s.Create(ctx)
	}
	return nil
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

// Get returns a copy of the session with the given id.
func (s *Store) Get(id string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return chat.Session{}, false
	}
	return s.sessions[i].Clone(), true
}

// Active returns a copy of the active session, if any.
func (s *Store) Active() (chat.Session, bool) {
	s.mu.RLock()
	id := s.activeID
	s.mu.RUnlock()
	if id == "" {
		return chat.Session{}, false
	}
	return s.Get(id)
}

// Activate makes id the active session.
func (s *Store) Activate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.activeID = id
	return nil
}

// Create prepends a new empty session and makes it active.
func (s *Store) Create(ctx context.Context) chat.Session {
	sess := chat.NewSession()

	s.mu.Lock()
	s.sessions = slices.Insert(s.sessions, 0, sess)
	s.activeID = sess.ID
	s.mu.Unlock()

	logger.L.Debug("session created", "session_id", sess.ID)
	s.persistLogged(ctx)
	return sess.Clone()
}

// Delete removes the session with the given id; unknown ids are ignored.
// Deleting the active session activates the first remaining one, or a new
// session when none remain.
func (s *Store) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.sessions = slices.Delete(s.sessions, i, i+1)
	empty := len(s.sessions) == 0
	if s.activeID == id {
		s.activeID = ""
		if !empty {
			s.activeID = s.sessions[0].ID
		}
	}
	s.mu.Unlock()

	logger.L.Debug("session deleted", "session_id", id)
	if empty {
		// Create persists for us.
		s.Create(ctx)
		return
	}
	s.persistLogged(ctx)
}

// Append adds msg to the session and returns the updated copy.
func (s *Store) Append(ctx context.Context, id string, msg chat.Message) (chat.Session, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return chat.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions[i].Append(msg)
	out := s.sessions[i].Clone()
	s.mu.Unlock()

	s.persistLogged(ctx)
	return out, nil
}

// Persist writes a sanitized snapshot of every session to the slot. A
// snapshot over quota is logged and skipped.
func (s *Store) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	stored := sanitize(s.sessions)
	s.mu.RUnlock()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := s.slot.Save(ctx, data); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			logger.L.Warn("session history not saved", "error", err, "bytes", len(data))
			return nil
		}
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

func (s *Store) persistLogged(ctx context.Context) {
	if err := s.Persist(ctx); err != nil {
		logger.L.Error("failed to persist sessions", "error", err)
	}
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.sessions, func(sess chat.Session) bool { return sess.ID == id })
}
