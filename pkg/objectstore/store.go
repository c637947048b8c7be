// Package objectstore provides the durable object store that holds published
// partition tables, flood-stage tables and fleet snapshots.
//
// Keys are slash-separated paths such as
// "reference_stats/state=VT/data.parquet". Every backend guarantees that Put
// is all-or-nothing: readers observe either the previous object or the new
// one, never a partial write, and a failed Put leaves the previous object in
// place.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("object not found")

	// ErrExists is returned by PutNew when the key is already taken.
	ErrExists = errors.New("object already exists")
)

// Store is a durable key/value object store.
type Store interface {
	// Put atomically creates or replaces the object at key.
	Put(ctx context.Context, key string, data []byte) error

	// PutNew creates the object at key, failing with ErrExists if it is
	// already present. Used for immutable archives.
	PutNew(ctx context.Context, key string, data []byte) error

	// Get returns the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every key beginning with prefix, in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// PersistenceError reports a failed write. The previously published object
// at Key, if any, is unchanged.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Config selects and configures a backend.
type Config struct {
	// Kind is "fs" or "gcs".
	Kind string

	// Root is the base directory of the fs backend.
	Root string

	// Bucket, Prefix and CredentialsFile configure the gcs backend. An empty
	// CredentialsFile uses application default credentials.
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// New creates a store based on cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", "fs":
		return NewFSStore(cfg.Root)
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("unknown object store kind: %s (must be fs or gcs)", cfg.Kind)
	}
}

// validKey rejects keys that are empty, absolute or escape the store root.
func validKey(key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key %q must be relative", key)
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("key %q is not a clean relative path", key)
	}
	return nil
}

// contentType maps a key's extension to a MIME type.
func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
