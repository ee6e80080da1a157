package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultExpiry is how long an untouched session survives a cleanup sweep.
const DefaultExpiry = 24 * time.Hour

// ErrNotFound is returned when no session exists for an id.
var ErrNotFound = errors.New("session not found")

// Manager persists sessions as JSON files, one per session, with atomic
// replace on save and a per-session lock for turn serialization.
type Manager struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
	expiry time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(fs afero.Fs, dir string, logger *slog.Logger) (*Manager, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &Manager{
		fs:     fs,
		dir:    dir,
		logger: logger.With("component", "session"),
		expiry: DefaultExpiry,
		locks:  map[string]*sync.Mutex{},
	}, nil
}

// SetExpiry overrides the cleanup expiry window.
func (m *Manager) SetExpiry(d time.Duration) { m.expiry = d }

// Lock acquires the session's mutex and returns the unlock func. Turns for
// one session run strictly serialized through this.
func (m *Manager) Lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+".json")
}

// Save writes the session atomically: marshal to a new temp file, then
// rename over the old one. A crash mid-save leaves the previous version.
func (m *Manager) Save(sess *Session) error {
	if err := sess.CheckInvariants(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp := m.path(sess.ID) + ".tmp-" + uuid.New().String()
	if err := afero.WriteFile(m.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	if err := m.fs.Rename(tmp, m.path(sess.ID)); err != nil {
		m.fs.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}

// Load reads a session by id.
func (m *Manager) Load(id string) (*Session, error) {
	data, err := afero.ReadFile(m.fs, m.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", id, err)
	}

	return &sess, nil
}

// Delete removes a session file.
func (m *Manager) Delete(id string) error {
	if err := m.fs.Remove(m.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()

	return nil
}

// List returns the ids of all stored sessions.
func (m *Manager) List() ([]string, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// CleanupExpired removes sessions whose last update is older than the
// expiry window. Returns the removed ids.
func (m *Manager) CleanupExpired() ([]string, error) {
	ids, err := m.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-m.expiry)
	var removed []string

	for _, id := range ids {
		sess, err := m.Load(id)
		if err != nil {
			m.logger.Warn("skipping unreadable session during cleanup", "id", id, "error", err)
			continue
		}
		if sess.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.Delete(id); err != nil {
			m.logger.Warn("failed to delete expired session", "id", id, "error", err)
			continue
		}
		removed = append(removed, id)
	}

	if len(removed) > 0 {
		m.logger.Info("expired sessions removed", "count", len(removed))
	}
	return removed, nil
}
