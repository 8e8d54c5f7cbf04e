// Package objectstore defines the abstract blob interface the local store
// gateway (C2) delegates attachment I/O to, and an S3-compatible
// implementation of it. The object store is an external collaborator;
// this package is the thin, swappable boundary plus one concrete backend.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get/Stat when the object does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// Info describes a stored object without fetching its bytes.
type Info struct {
	Size int64
	MD5  string
}

// Store is the abstract blob interface, grounded on the original
// implementation's FileSystem trait (folder_exists/file_exists/file_get/
// file_put/file_stat).
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Stat(ctx context.Context, key string) (*Info, error)
}

// AttachmentKey returns the canonical object-store key for an attachment,
// attachments/{item_key}/{filename}.
func AttachmentKey(itemKey, filename string) string {
	return fmt.Sprintf("attachments/%s/%s", itemKey, filename)
}
