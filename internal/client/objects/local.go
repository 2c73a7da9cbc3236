package objects

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/dmitrijs2005/gophchat/internal/filex"
)

// LocalStore keeps objects as files in a directory and hands out file://
// URLs.
type LocalStore struct {
	dir string

	mu    sync.Mutex
	paths map[string]string // url -> path
}

func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &LocalStore{dir: abs, paths: make(map[string]string)}, nil
}

func (s *LocalStore) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := filex.WriteFile(s.dir, objectName(name), data)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}

	u := (&url.URL{Scheme: "file", Path: path}).String()

	s.mu.Lock()
	s.paths[u] = path
	s.mu.Unlock()
	return u, nil
}

func (s *LocalStore) Revoke(_ context.Context, u string) error {
	s.mu.Lock()
	path, ok := s.paths[u]
	delete(s.paths, u)
	s.mu.Unlock()

	if !ok {
		return ErrUnknownObject
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Len reports how many objects are outstanding.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}
