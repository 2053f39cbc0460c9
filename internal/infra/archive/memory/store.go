// Package memory implements an in-memory archive Store for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"seedqc/internal/infra/archive"
)

var _ archive.Store = (*Store)(nil)

type entry struct {
	info archive.Info
	data []byte
}

// Store implements archive.Store backed by process memory.
type Store struct {
	mu   sync.RWMutex
	docs map[string]entry
}

// New returns an empty in-memory archive.
func New() *Store { return &Store{docs: make(map[string]entry)} }

// Driver returns the archive driver identifier.
func (s *Store) Driver() archive.Driver { return archive.DriverMemory }

// Put stores a new document; errors if key exists.
func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) (archive.Info, error) {
	if err := archive.ValidateKey(key); err != nil {
		return archive.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[key]; exists {
		return archive.Info{}, fmt.Errorf("%w: %s", archive.ErrExists, key)
	}
	info := archive.Info{Key: key, Size: int64(len(data)), ContentType: contentType, LastModified: time.Now().UTC()}
	s.docs[key] = entry{info: info, data: append([]byte(nil), data...)}
	return info, nil
}

// Get returns a copy of the document bytes.
func (s *Store) Get(_ context.Context, key string) ([]byte, archive.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, archive.Info{}, fmt.Errorf("%w: %s", archive.ErrMissing, key)
	}
	return append([]byte(nil), doc.data...), doc.info, nil
}

// List returns documents whose key starts with prefix, sorted by key.
func (s *Store) List(_ context.Context, prefix string) ([]archive.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []archive.Info
	for k, doc := range s.docs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, doc.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
