// Package memory provides a map-backed storage.Backend used by tests
// and by diagnostic in-memory mounts. It bypasses all network setup
// but is behaviorally identical to the S3 backend downstream.
package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftfs/driftfs/internal/storage"
)

// Backend is an in-memory object store. Safe for concurrent use.
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
}

type object struct {
	data    []byte
	modTime time.Time
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{objects: make(map[string]object)}
}

// GetObject retrieves an object or a byte range of it.
func (b *Backend) GetObject(_ context.Context, key string, offset, size int64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}

	if offset >= int64(len(obj.data)) {
		return nil, nil
	}
	end := int64(len(obj.data))
	if size > 0 && offset+size < end {
		end = offset + size
	}

	out := make([]byte, end-offset)
	copy(out, obj.data[offset:end])
	return out, nil
}

// PutObject stores an object, replacing any existing content.
func (b *Backend) PutObject(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	b.objects[key] = object{data: stored, modTime: time.Now()}
	return nil
}

// DeleteObject removes an object. Missing keys are not an error,
// matching S3 delete semantics.
func (b *Backend) DeleteObject(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, key)
	return nil
}

// HeadObject returns metadata for a single key.
func (b *Backend) HeadObject(_ context.Context, key string) (*storage.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b.infoLocked(key, obj), nil
}

// List enumerates objects under prefix with "/" as delimiter.
func (b *Backend) List(_ context.Context, prefix string) (*storage.Listing, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	listing := &storage.Listing{}
	prefixes := make(map[string]bool)

	for key, obj := range b.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if rest == "" {
			continue
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			prefixes[prefix+rest[:idx+1]] = true
			continue
		}
		listing.Objects = append(listing.Objects, *b.infoLocked(key, obj))
	}

	for p := range prefixes {
		listing.CommonPrefixes = append(listing.CommonPrefixes, p)
	}
	sort.Slice(listing.Objects, func(i, j int) bool {
		return listing.Objects[i].Key < listing.Objects[j].Key
	})
	sort.Strings(listing.CommonPrefixes)
	return listing, nil
}

// HealthCheck always succeeds for the in-memory backend.
func (b *Backend) HealthCheck(context.Context) error {
	return nil
}

func (b *Backend) infoLocked(key string, obj object) *storage.ObjectInfo {
	sum := md5.Sum(obj.data)
	return &storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: obj.modTime,
	}
}
