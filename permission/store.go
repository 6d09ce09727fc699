package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/capgate/capgate/domain/entities"
)

// Store persists StoredPermission values keyed by MakeKey's output. Every
// implementation must round-trip Get/Set/Remove/List/Clear faithfully;
// the representation on disk (or in memory) is an implementation choice.
type Store interface {
	Get(key string) (*entities.StoredPermission, error)
	Set(key string, permission entities.StoredPermission) error
	Remove(key string) error
	List() (map[string]entities.StoredPermission, error)
	Clear() error
}

// MakeKey encodes a (plugin, command, granularity) tuple into a storage key.
// Execution-granularity keys are never actually looked up in a Store: the
// engine treats that granularity as always-fresh, but the key is still
// well-defined for diagnostics.
func MakeKey(plugin string, command string, granularity Granularity) string {
	switch granularity {
	case GranularityCommand:
		if command == "" {
			return plugin
		}
		return fmt.Sprintf("%s:%s", plugin, command)
	case GranularityExecution:
		return fmt.Sprintf("%s:execution", plugin)
	default:
		return plugin
	}
}

// MemoryStore is an in-process, non-persistent Store. Useful for tests and
// for the CI/TrustAll presets that never need to survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entities.StoredPermission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entities.StoredPermission)}
}

func (s *MemoryStore) Get(key string) (*entities.StoredPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) Set(key string, permission entities.StoredPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = permission
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) List() (map[string]entities.StoredPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]entities.StoredPermission, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entities.StoredPermission)
	return nil
}

// ReadOnlyStore wraps another Store and rejects every mutation, for
// environments (e.g. CI pinned to a checked-in grants file) that must not
// write back.
type ReadOnlyStore struct {
	inner Store
}

func NewReadOnlyStore(inner Store) *ReadOnlyStore {
	return &ReadOnlyStore{inner: inner}
}

func (s *ReadOnlyStore) Get(key string) (*entities.StoredPermission, error) { return s.inner.Get(key) }
func (s *ReadOnlyStore) List() (map[string]entities.StoredPermission, error) {
	return s.inner.List()
}
func (s *ReadOnlyStore) Set(string, entities.StoredPermission) error {
	return fmt.Errorf("permission store is read-only")
}
func (s *ReadOnlyStore) Remove(string) error {
	return fmt.Errorf("permission store is read-only")
}
func (s *ReadOnlyStore) Clear() error {
	return fmt.Errorf("permission store is read-only")
}

// FileStore persists StoredPermission entries as a YAML document, one
// top-level key per storage key, mirroring how a CLI host persists
// capability grants to disk.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by path, creating its parent
// directory (mode 0o755) lazily on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultFileStorePath returns the conventional per-user permission store
// location for appName, e.g. "~/.capgate/permissions.yaml".
func DefaultFileStorePath(appName string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "."+appName, "permissions.yaml"), nil
}

func (s *FileStore) load() (map[string]entities.StoredPermission, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]entities.StoredPermission), nil
	}
	if err != nil {
		return nil, err
	}
	entries := make(map[string]entities.StoredPermission)
	if len(data) == 0 {
		return entries, nil
	}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *FileStore) save(entries map[string]entities.StoredPermission) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileStore) Get(key string) (*entities.StoredPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	p, ok := entries[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *FileStore) Set(key string, permission entities.StoredPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[key] = permission
	return s.save(entries)
}

func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	delete(entries, key)
	return s.save(entries)
}

func (s *FileStore) List() (map[string]entities.StoredPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(make(map[string]entities.StoredPermission))
}
