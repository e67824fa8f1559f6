package collector

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a session survives without activity before
// it rotates.
const DefaultSessionTTL = 30 * time.Minute

// Identity is the collector's derived identity: a permanent client id and
// a session id that rotates after inactivity.
type Identity struct {
	ClientID     string    `json:"clientId"`
	SessionID    string    `json:"sessionId"`
	LastActivity time.Time `json:"lastActivity"`
}

// IdentityStore persists identity across collector restarts.
type IdentityStore interface {
	Load() (Identity, error)
	Save(Identity) error
}

// FileIdentityStore keeps the identity in a JSON file, the closest
// process-side analogue to durable client-local storage.
type FileIdentityStore struct {
	Path string
}

// NewFileIdentityStore stores identity at path; an empty path picks a file
// under the user cache directory.
func NewFileIdentityStore(path string) *FileIdentityStore {
	if path == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			path = filepath.Join(dir, "pulse-telemetry", "identity.json")
		} else {
			path = filepath.Join(os.TempDir(), "pulse-telemetry-identity.json")
		}
	}
	return &FileIdentityStore{Path: path}
}

// Load reads the stored identity; a missing file yields a zero identity.
func (s *FileIdentityStore) Load() (Identity, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, nil
		}
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Save writes the identity back, creating parent directories as needed.
func (s *FileIdentityStore) Save(id Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0o600)
}

// MemoryIdentityStore holds identity for the collector's lifetime only,
// for tests and hosts without a writable filesystem.
type MemoryIdentityStore struct {
	id Identity
}

func (s *MemoryIdentityStore) Load() (Identity, error) { return s.id, nil }
func (s *MemoryIdentityStore) Save(id Identity) error  { s.id = id; return nil }

// touch refreshes identity under the collector lock: mints the permanent
// client id once, rotates the session when the inactivity gap exceeds the
// TTL, and stamps the activity time.
func (c *Collector) touch(now time.Time) Identity {
	id := &c.identity
	if id.ClientID == "" {
		id.ClientID = uuid.NewString()
	}
	if id.SessionID == "" || now.Sub(id.LastActivity) > c.sessionTTL {
		id.SessionID = uuid.NewString()
	}
	id.LastActivity = now
	if err := c.idStore.Save(*id); err != nil {
		c.debug("persist identity", err)
	}
	return *id
}
