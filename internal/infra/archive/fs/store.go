// Package fs implements an archive Store on the local filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"seedqc/internal/infra/archive"
)

var _ archive.Store = (*Store)(nil)

// Store maps keys to files below root. Documents are written to a temp file
// and renamed into place so readers never see partial content.
type Store struct {
	root string
}

// New returns a filesystem archive rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./archive"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Store{root: root}, nil
}

// Driver returns the archive driver identifier.
func (s *Store) Driver() archive.Driver { return archive.DriverFilesystem }

func (s *Store) pathFor(key string) (string, error) {
	if err := archive.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(filepath.ToSlash(filepath.Clean(key)))), nil
}

// Put writes a new document; errors if the key exists.
func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) (archive.Info, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return archive.Info{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return archive.Info{}, fmt.Errorf("%w: %s", archive.ErrExists, key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return archive.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return archive.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return archive.Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return archive.Info{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return archive.Info{}, err
	}
	return s.stat(key, path, contentType)
}

// Get reads a document.
func (s *Store) Get(_ context.Context, key string) ([]byte, archive.Info, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, archive.Info{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, archive.Info{}, fmt.Errorf("%w: %s", archive.ErrMissing, key)
	}
	if err != nil {
		return nil, archive.Info{}, err
	}
	info, err := s.stat(key, path, contentTypeFor(key))
	return data, info, err
}

// List walks the archive and returns documents whose key starts with prefix.
func (s *Store) List(_ context.Context, prefix string) ([]archive.Info, error) {
	var out []archive.Info
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.stat(key, path, contentTypeFor(key))
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) stat(key, path, contentType string) (archive.Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return archive.Info{}, err
	}
	return archive.Info{Key: key, Size: st.Size(), ContentType: contentType, LastModified: st.ModTime().UTC()}, nil
}

func contentTypeFor(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
