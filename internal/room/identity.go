package room

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Identity is the durable per-machine identity: a stable user ID that
// survives rejoins plus, while joined, the ID of the live presence
// record so a restart can pick the same session back up.
type Identity struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
}

// IdentityStore persists the identity across restarts.
type IdentityStore interface {
	Load() (Identity, error)
	Save(Identity) error
}

// FileIdentity keeps the identity as a small JSON file on disk.
type FileIdentity struct {
	path string
}

func NewFileIdentity(path string) *FileIdentity {
	return &FileIdentity{path: path}
}

// DefaultIdentityPath returns the per-user identity file location
// under the OS config directory.
func DefaultIdentityPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "focusroom", "identity.json"), nil
}

func (f *FileIdentity) Load() (Identity, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, nil
		}
		return Identity{}, err
	}
	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		// A corrupt file counts as no identity; the next Save rewrites
		// it.
		log.Printf("room: discarding unreadable identity file %s: %v", f.path, err)
		return Identity{}, nil
	}
	return ident, nil
}

func (f *FileIdentity) Save(ident Identity) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

// MemoryIdentity is an in-memory IdentityStore for tests.
type MemoryIdentity struct {
	mu    sync.Mutex
	ident Identity
	saves int
}

func NewMemoryIdentity() *MemoryIdentity {
	return &MemoryIdentity{}
}

func (m *MemoryIdentity) Load() (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ident, nil
}

func (m *MemoryIdentity) Save(ident Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ident = ident
	m.saves++
	return nil
}

// Saves reports how many times Save ran.
func (m *MemoryIdentity) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
