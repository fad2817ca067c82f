package fuse

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/driftfs/driftfs/internal/storage"
)

// fsOps carries the state shared by every node in the mounted tree.
type fsOps struct {
	backend  storage.Backend
	uid      uint32
	gid      uint32
	readOnly bool
	logger   *slog.Logger
}

// dirNode is a directory derived from the key namespace. prefix is ""
// for the root and always ends with "/" otherwise. Directories exist
// either implicitly (some key lives below them) or explicitly via a
// zero-byte "name/" marker object.
type dirNode struct {
	fs.Inode
	ops    *fsOps
	prefix string
}

var _ fs.InodeEmbedder = (*dirNode)(nil)
var _ fs.NodeLookuper = (*dirNode)(nil)
var _ fs.NodeReaddirer = (*dirNode)(nil)
var _ fs.NodeGetattrer = (*dirNode)(nil)
var _ fs.NodeCreater = (*dirNode)(nil)
var _ fs.NodeMkdirer = (*dirNode)(nil)
var _ fs.NodeRmdirer = (*dirNode)(nil)
var _ fs.NodeUnlinker = (*dirNode)(nil)

// newRoot builds the filesystem root over a backend.
func newRoot(backend storage.Backend, uid, gid uint32, readOnly bool, logger *slog.Logger) *dirNode {
	return &dirNode{
		ops: &fsOps{
			backend:  backend,
			uid:      uid,
			gid:      gid,
			readOnly: readOnly,
			logger:   logger,
		},
	}
}

func (d *dirNode) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o755
	out.Uid = d.ops.uid
	out.Gid = d.ops.gid
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	key := d.prefix + name

	info, err := d.ops.backend.HeadObject(ctx, key)
	if err == nil {
		node := &fileNode{ops: d.ops, key: key, size: info.Size, mtime: info.LastModified}
		child := d.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG})
		node.fillEntry(out)
		return child, 0
	}
	if !errors.Is(err, storage.ErrNotFound) {
		// A backend failure is not "no such file".
		d.ops.logger.Error("lookup failed", "key", key, "error", err)
		return nil, syscall.EIO
	}

	// Not a plain object; it is a directory if anything lives below
	// the prefix, including a bare "key/" marker.
	childPrefix := key + "/"
	if d.ops.exists(ctx, childPrefix) {
		child := d.NewInode(ctx, &dirNode{ops: d.ops, prefix: childPrefix},
			fs.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o755
		out.Uid = d.ops.uid
		out.Gid = d.ops.gid
		return child, 0
	}

	return nil, syscall.ENOENT
}

func (d *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	listing, err := d.ops.backend.List(ctx, d.prefix)
	if err != nil {
		d.ops.logger.Error("readdir list failed", "prefix", d.prefix, "error", err)
		return nil, syscall.EIO
	}

	var entries []fuse.DirEntry
	for _, cp := range listing.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(cp, d.prefix), "/")
		if name == "" {
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: syscall.S_IFDIR})
	}
	for _, obj := range listing.Objects {
		name := strings.TrimPrefix(obj.Key, d.prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			// The directory's own marker object is not an entry.
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: syscall.S_IFREG})
	}

	return fs.NewListDirStream(entries), 0
}

func (d *dirNode) Create(ctx context.Context, name string, flags uint32, _ uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if d.ops.readOnly {
		return nil, nil, 0, syscall.EROFS
	}

	key := d.prefix + name
	node := &fileNode{ops: d.ops, key: key}
	child := d.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG})
	node.fillEntry(out)

	// Dirty from the start so a create with no writes still uploads
	// an empty object.
	handle := &writeHandle{ops: d.ops, key: key, node: node, dirty: true}
	return child, handle, 0, 0
}

func (d *dirNode) Mkdir(ctx context.Context, name string, _ uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if d.ops.readOnly {
		return nil, syscall.EROFS
	}

	marker := d.prefix + name + "/"
	if err := d.ops.backend.PutObject(ctx, marker, nil); err != nil {
		d.ops.logger.Error("mkdir marker write failed", "key", marker, "error", err)
		return nil, syscall.EIO
	}

	child := d.NewInode(ctx, &dirNode{ops: d.ops, prefix: marker},
		fs.StableAttr{Mode: syscall.S_IFDIR})
	out.Mode = syscall.S_IFDIR | 0o755
	out.Uid = d.ops.uid
	out.Gid = d.ops.gid
	return child, 0
}

func (d *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if d.ops.readOnly {
		return syscall.EROFS
	}

	prefix := d.prefix + name + "/"
	listing, err := d.ops.backend.List(ctx, prefix)
	if err != nil {
		return syscall.EIO
	}
	for _, obj := range listing.Objects {
		if obj.Key != prefix {
			return syscall.ENOTEMPTY
		}
	}
	if len(listing.CommonPrefixes) > 0 {
		return syscall.ENOTEMPTY
	}

	if err := d.ops.backend.DeleteObject(ctx, prefix); err != nil {
		return syscall.EIO
	}
	return 0
}

func (d *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if d.ops.readOnly {
		return syscall.EROFS
	}

	if err := d.ops.backend.DeleteObject(ctx, d.prefix+name); err != nil {
		d.ops.logger.Error("unlink failed", "key", d.prefix+name, "error", err)
		return syscall.EIO
	}
	return 0
}

// exists reports whether any object lives at or below the prefix.
func (o *fsOps) exists(ctx context.Context, prefix string) bool {
	if _, err := o.backend.HeadObject(ctx, prefix); err == nil {
		return true
	}
	listing, err := o.backend.List(ctx, prefix)
	if err != nil {
		return false
	}
	return len(listing.Objects) > 0 || len(listing.CommonPrefixes) > 0
}

// fileNode is a single object exposed as a regular file.
type fileNode struct {
	fs.Inode
	ops *fsOps
	key string

	// mu guards size and mtime; Getattr and a flushing write handle
	// can touch them concurrently.
	mu    sync.Mutex
	size  int64
	mtime time.Time
}

var _ fs.InodeEmbedder = (*fileNode)(nil)
var _ fs.NodeGetattrer = (*fileNode)(nil)
var _ fs.NodeOpener = (*fileNode)(nil)
var _ fs.NodeReader = (*fileNode)(nil)
var _ fs.NodeSetattrer = (*fileNode)(nil)

func (f *fileNode) setAttr(size int64, mtime time.Time) {
	f.mu.Lock()
	f.size = size
	f.mtime = mtime
	f.mu.Unlock()
}

func (f *fileNode) attr() (int64, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, f.mtime
}

func (f *fileNode) fillEntry(out *fuse.EntryOut) {
	size, mtime := f.attr()
	out.Mode = syscall.S_IFREG | 0o644
	out.Size = uint64(size)
	out.Uid = f.ops.uid
	out.Gid = f.ops.gid
	if !mtime.IsZero() {
		out.Mtime = uint64(mtime.Unix())
	}
}

func (f *fileNode) Getattr(ctx context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	// Refresh size from the backend so attrs survive external writes
	// to the bucket.
	if info, err := f.ops.backend.HeadObject(ctx, f.key); err == nil {
		f.setAttr(info.Size, info.LastModified)
	}
	size, mtime := f.attr()

	out.Mode = syscall.S_IFREG | 0o644
	out.Size = uint64(size)
	out.Uid = f.ops.uid
	out.Gid = f.ops.gid
	if !mtime.IsZero() {
		out.Mtime = uint64(mtime.Unix())
	}
	return 0
}

func (f *fileNode) Setattr(_ context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	// Truncation to zero is the only size change an object store can
	// honor; it must reach the backend even if nothing is written
	// afterwards.
	if size, ok := in.GetSize(); ok && size != 0 {
		return syscall.ENOTSUP
	}
	if f.ops.readOnly {
		return syscall.EROFS
	}
	if size, ok := in.GetSize(); ok && size == 0 {
		if w, ok := fh.(*writeHandle); ok {
			w.truncate()
		}
	}
	out.Mode = syscall.S_IFREG | 0o644
	out.Uid = f.ops.uid
	out.Gid = f.ops.gid
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		if f.ops.readOnly {
			return nil, 0, syscall.EROFS
		}
		handle := &writeHandle{ops: f.ops, key: f.key, node: f}
		if flags&syscall.O_TRUNC != 0 {
			// The empty buffer must replace the object even if no
			// write ever arrives.
			handle.dirty = true
		} else {
			// Seed the buffer with the current content so a partial
			// overwrite keeps the untouched bytes.
			data, err := f.ops.backend.GetObject(ctx, f.key, 0, 0)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, 0, syscall.EIO
			}
			handle.buf = data
		}
		return handle, 0, 0
	}

	return nil, 0, 0
}

func (f *fileNode) Read(ctx context.Context, _ fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.ops.backend.GetObject(ctx, f.key, off, int64(len(dest)))
	if err != nil {
		f.ops.logger.Error("read failed", "key", f.key, "offset", off, "error", err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(data), 0
}

// writeHandle buffers writes for one open file and uploads the whole
// object on flush. Object stores have no partial-write primitive, so
// the buffer is the unit of durability.
type writeHandle struct {
	ops  *fsOps
	key  string
	node *fileNode

	mu    sync.Mutex
	buf   []byte
	dirty bool
}

var _ fs.FileWriter = (*writeHandle)(nil)
var _ fs.FileFlusher = (*writeHandle)(nil)
var _ fs.FileReleaser = (*writeHandle)(nil)
var _ fs.FileGetattrer = (*writeHandle)(nil)

func (w *writeHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := off + int64(len(data))
	if end > int64(len(w.buf)) {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[off:end], data)
	w.dirty = true
	return uint32(len(data)), 0
}

// truncate discards the buffered content and marks the handle dirty
// so the truncation reaches the backend on flush.
func (w *writeHandle) truncate() {
	w.mu.Lock()
	w.buf = nil
	w.dirty = true
	w.mu.Unlock()
}

func (w *writeHandle) Flush(ctx context.Context) syscall.Errno {
	return w.upload(ctx)
}

func (w *writeHandle) Release(ctx context.Context) syscall.Errno {
	return w.upload(ctx)
}

func (w *writeHandle) Getattr(_ context.Context, out *fuse.AttrOut) syscall.Errno {
	w.mu.Lock()
	defer w.mu.Unlock()

	out.Mode = syscall.S_IFREG | 0o644
	out.Size = uint64(len(w.buf))
	out.Uid = w.ops.uid
	out.Gid = w.ops.gid
	return 0
}

func (w *writeHandle) upload(ctx context.Context) syscall.Errno {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dirty {
		return 0
	}
	if err := w.ops.backend.PutObject(ctx, w.key, w.buf); err != nil {
		w.ops.logger.Error("object upload failed", "key", w.key, "size", len(w.buf), "error", err)
		return syscall.EIO
	}
	w.dirty = false
	if w.node != nil {
		w.node.setAttr(int64(len(w.buf)), time.Now())
	}
	return 0
}
