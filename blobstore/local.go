package blobstore

import (
	"context"
	"os"
	"path/filepath"
)

// LocalStore keeps blobs as files below root. An empty root resolves names
// against the working directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(name string) string {
	if s.root == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.root, name)
}

func (s *LocalStore) Get(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(s.path(name))
}

// Put writes through a temp file in the target directory and renames it into place.
func (s *LocalStore) Put(_ context.Context, name string, data []byte) error {
	p := s.path(name)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
