// Package session owns the persisted authentication state: the backend
// session token and the cached user profile. Nothing else reads or writes
// the underlying document.
package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/backendapi"
)

// ErrNotAuthenticated is returned by operations that require a session
// token when none is stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// Session is the current authentication snapshot. Token and User are always
// written together; no reader observes one without the other.
type Session struct {
	IsAuthenticated bool                    `json:"isAuthenticated"`
	Token           string                  `json:"token,omitempty"`
	User            *backendapi.UserProfile `json:"user,omitempty"`
}

type document struct {
	Token string                  `json:"token,omitempty"`
	User  *backendapi.UserProfile `json:"user,omitempty"`
}

// Watcher is notified after every completed Set or Clear.
type Watcher func(Session)

// Store is a file-backed session store. The file is the durable analog of
// the browser's synced key-value storage; writes go through a temp file and
// rename so a crash never leaves a half-written session.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	current  document
	watchers []Watcher
}

func NewStore(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With(slog.String("component", "session_store")),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // fresh profile, empty session
		}
		return errors.Wrap(err, "failed to read session file")
	}
	if err := json.Unmarshal(data, &s.current); err != nil {
		// An unreadable document is treated as logged out rather than
		// wedging the whole agent.
		s.logger.Warn("Session file is corrupt, starting logged out", slog.Any("error", err))
		s.current = document{}
	}
	return nil
}

// Get returns the current session snapshot.
func (s *Store) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Set persists token and user together. The in-memory view and the file
// change atomically from a reader's perspective.
func (s *Store) Set(token string, user *backendapi.UserProfile) error {
	s.mu.Lock()
	prev := s.current
	s.current = document{Token: token, User: user}
	if err := s.persistLocked(); err != nil {
		s.current = prev
		s.mu.Unlock()
		return err
	}
	snap := s.snapshotLocked()
	watchers := append([]Watcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		w(snap)
	}
	return nil
}

// Clear removes token and user together.
func (s *Store) Clear() error {
	return s.Set("", nil)
}

// Watch registers fn for change notifications and returns an unregister
// func. Notifications fire outside the store lock.
func (s *Store) Watch(fn Watcher) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.watchers)
	s.watchers = append(s.watchers, fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.watchers[idx] = func(Session) {}
	}
}

func (s *Store) snapshotLocked() Session {
	return Session{
		IsAuthenticated: s.current.Token != "" && !tokenExpired(s.current.Token),
		Token:           s.current.Token,
		User:            s.current.User,
	}
}

func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.current)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp session file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write session file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close session file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to replace session file")
	}
	return nil
}

// tokenExpired inspects a JWT's exp claim without verifying the signature;
// verification is the backend's job. Tokens that don't parse as JWTs are
// treated as opaque and assumed live.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
