// Package archive defines the write-once document store that receives audit
// snapshots of measurement records.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Driver identifies a concrete archive backend implementation.
type Driver string

const (
	// DriverFilesystem writes documents below a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 writes documents to an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps documents in process memory (tests).
	DriverMemory Driver = "memory"
)

// ErrExists is returned when a key has already been written.
var ErrExists = errors.New("archive: key already exists")

// ErrMissing is returned when a key does not exist.
var ErrMissing = errors.New("archive: key not found")

// Info describes an archived document.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store archives immutable documents. Put never overwrites an existing key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Info, error)
	Get(ctx context.Context, key string) ([]byte, Info, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// ValidateKey rejects empty, absolute and traversing keys.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("archive: empty key")
	case strings.HasPrefix(key, "/"):
		return fmt.Errorf("archive: absolute key %q", key)
	case strings.Contains(key, ".."):
		return fmt.Errorf("archive: key %q contains '..'", key)
	}
	return nil
}
