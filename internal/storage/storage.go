// Package storage defines the object-store backend contract shared by
// the FUSE adapter and the mount lifecycle. A network-backed S3
// implementation and an in-memory implementation satisfy the same
// interface, so the rest of the system never knows which one it is
// talking to.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Listing is the result of a delimited List call: the objects directly
// under the prefix plus the common prefixes one level below it.
type Listing struct {
	Objects        []ObjectInfo
	CommonPrefixes []string
}

// Backend defines the operations the filesystem adapter needs from an
// object store.
type Backend interface {
	// GetObject retrieves an object or a byte range of it. A size of
	// zero with a non-zero offset reads to the end of the object.
	GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error)

	// PutObject stores an object, replacing any existing content.
	PutObject(ctx context.Context, key string, data []byte) error

	// DeleteObject removes an object. Deleting a missing key is not an
	// error.
	DeleteObject(ctx context.Context, key string) error

	// HeadObject returns metadata for a single key, or ErrNotFound.
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)

	// List enumerates objects under prefix using "/" as delimiter,
	// returning directly contained objects and common prefixes.
	List(ctx context.Context, prefix string) (*Listing, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}
