// Package envstore persists the selected model id in a dotenv file shared
// with the container supervisor, which passes it to the inference service
// on recreation.
package envstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"vllmgate/internal/common/fsutil"
)

// DefaultKey is the variable the inference service reads its model from.
const DefaultKey = "DEFAULT_MODEL"

// Store reads and writes one key of a dotenv file. Other keys are kept;
// comments and formatting are not.
type Store struct {
	path string
	key  string
	mu   sync.Mutex
}

// New returns a Store for key in the dotenv file at path.
func New(path, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{path: path, key: key}
}

// Path returns the dotenv file location.
func (s *Store) Path() string { return s.path }

// Selected returns the persisted model id, or "" when the file or key is
// absent.
func (s *Store) Selected() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.read()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(env[s.key]), nil
}

// SetSelected persists id, creating the file if needed. The file is
// replaced atomically.
func (s *Store) SetSelected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := s.read()
	if err != nil {
		return err
	}
	env[s.key] = id
	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) read() (map[string]string, error) {
	env, err := godotenv.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return env, nil
}
