// Package fuse mounts a storage backend as a FUSE filesystem and owns
// the resulting OS mount for its lifetime. The Session brings the
// mount up; the Handle it returns is the only way to observe the
// filesystem stopping and the only way to release the mount.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/driftfs/driftfs/internal/backoff"
	"github.com/driftfs/driftfs/internal/config"
	"github.com/driftfs/driftfs/internal/storage"
)

// Sentinel errors distinguishing the two startup failure classes.
// Both are fatal: mount problems need operator intervention, not
// retries.
var (
	// ErrMountpoint covers mount directory setup failures.
	ErrMountpoint = errors.New("mountpoint setup failed")

	// ErrMount covers rejection of the mount itself by the OS.
	ErrMount = errors.New("mount failed")
)

// Session combines a mount configuration with a storage backend. It
// holds no OS resource until Start succeeds.
type Session struct {
	config  config.MountConfig
	backend storage.Backend
	logger  *slog.Logger
}

// NewSession creates an unmounted session.
func NewSession(cfg config.MountConfig, backend storage.Backend, logger *slog.Logger) *Session {
	return &Session{config: cfg, backend: backend, logger: logger}
}

// Handle is an active OS mount. It must be released exactly once; the
// OS unmount primitive is not safe to call twice, and the shutdown
// coordinator is the sole caller.
type Handle struct {
	server   *fuse.Server
	mountDir string
	done     chan struct{}
}

// Start creates the mount directory if absent, resolves the owner
// identity, and issues the OS mount. On failure nothing is held and
// there is nothing to release.
func (s *Session) Start(ctx context.Context) (*Handle, error) {
	cfg := s.config
	if cfg.MountDir == "" {
		return nil, fmt.Errorf("%w: mount directory is empty", ErrMountpoint)
	}

	// Probe the backend before touching the filesystem so a dead
	// backend leaves no mount directory behind. A couple of retries
	// ride out the backend coming up alongside us.
	probe := func(ctx context.Context) error { return s.backend.HealthCheck(ctx) }
	if err := backoff.Retry(ctx, backoff.DefaultPolicy(), nil, probe); err != nil {
		return nil, fmt.Errorf("backend health check: %w", err)
	}

	if err := os.MkdirAll(cfg.MountDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %q: %v", ErrMountpoint, cfg.MountDir, err)
	}

	if !cfg.Options.NonEmpty {
		entries, err := os.ReadDir(cfg.MountDir)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %q: %v", ErrMountpoint, cfg.MountDir, err)
		}
		if len(entries) > 0 {
			return nil, fmt.Errorf("%w: %q is not empty", ErrMountpoint, cfg.MountDir)
		}
	}

	uid := cfg.UID.Resolve(os.Getuid)
	gid := cfg.GID.Resolve(os.Getgid)

	root := newRoot(s.backend, uid, gid, cfg.Options.ReadOnly, s.logger)

	s.logger.Info("mounting filesystem",
		"mount_dir", cfg.MountDir,
		"uid", uid,
		"gid", gid,
		"read_only", cfg.Options.ReadOnly)

	server, err := fs.Mount(cfg.MountDir, root, buildOptions(cfg.Options))
	if err != nil {
		return nil, fmt.Errorf("%w: mounting at %q: %v", ErrMount, cfg.MountDir, err)
	}

	// The select-ability of "the filesystem stopped serving" comes
	// from wrapping the server's blocking Wait in a channel close.
	handle := &Handle{server: server, mountDir: cfg.MountDir, done: make(chan struct{})}
	go func() {
		server.Wait()
		close(handle.done)
	}()

	s.logger.Info("filesystem mounted", "mount_dir", cfg.MountDir)
	return handle, nil
}

// Serving returns a channel that is closed when the filesystem stops
// being served for any reason: external unmount, fatal protocol
// error, or a Release call. Completion is the only signal; there is
// no error to report here.
func (h *Handle) Serving() <-chan struct{} {
	return h.done
}

// Release requests the OS unmount. Safe to call from a different
// goroutine than one waiting on Serving, but not safe to call twice.
func (h *Handle) Release() error {
	if err := h.server.Unmount(); err != nil {
		return fmt.Errorf("unmounting %q: %w", h.mountDir, err)
	}
	return nil
}

// MountDir returns the directory the filesystem is mounted at.
func (h *Handle) MountDir() string {
	return h.mountDir
}

// buildOptions translates the config toggles into go-fuse options.
func buildOptions(opts config.MountOptions) *fs.Options {
	attrTimeout := time.Second
	entryTimeout := time.Second

	fsName := opts.FSName
	if fsName == "" {
		fsName = "driftfs"
	}

	fuseOpts := &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     fsName,
			Name:       "driftfs",
			AllowOther: opts.AllowOther,
		},
	}

	if opts.ReadOnly {
		fuseOpts.MountOptions.Options = append(fuseOpts.MountOptions.Options, "ro")
	}
	if opts.AllowRoot {
		fuseOpts.MountOptions.Options = append(fuseOpts.MountOptions.Options, "allow_root")
	}
	if opts.DefaultPermissions {
		fuseOpts.MountOptions.Options = append(fuseOpts.MountOptions.Options, "default_permissions")
	}
	if opts.ExtraOptions != "" {
		for _, o := range strings.Split(opts.ExtraOptions, ",") {
			if o = strings.TrimSpace(o); o != "" {
				fuseOpts.MountOptions.Options = append(fuseOpts.MountOptions.Options, o)
			}
		}
	}

	return fuseOpts
}
