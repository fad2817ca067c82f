package fuse

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/internal/config"
	"github.com/driftfs/driftfs/internal/storage"
	"github.com/driftfs/driftfs/internal/storage/memory"
)

// deadBackend fails its health check and nothing else.
type deadBackend struct {
	*memory.Backend
	err error
}

func (d *deadBackend) HealthCheck(ctx context.Context) error { return d.err }

var _ storage.Backend = (*deadBackend)(nil)

func sessionLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartEmptyMountDir(t *testing.T) {
	s := NewSession(config.MountConfig{}, memory.New(), sessionLogger())
	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrMountpoint)
}

func TestStartDeadBackendLeavesNoMountDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnt")
	backend := &deadBackend{Backend: memory.New(), err: errors.New("connection refused")}

	s := NewSession(config.MountConfig{MountDir: dir}, backend, sessionLogger())
	_, err := s.Start(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "mount dir should not be created when the backend is down")
}

func TestStartNonEmptyMountDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "occupied"), []byte("x"), 0o644))

	s := NewSession(config.MountConfig{MountDir: dir}, memory.New(), sessionLogger())
	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrMountpoint)
}

func TestBuildOptionsDefaults(t *testing.T) {
	opts := buildOptions(config.MountOptions{})

	assert.Equal(t, "driftfs", opts.MountOptions.FsName)
	assert.Equal(t, "driftfs", opts.MountOptions.Name)
	assert.False(t, opts.MountOptions.AllowOther)
	assert.Empty(t, opts.MountOptions.Options)
	require.NotNil(t, opts.AttrTimeout)
	assert.Equal(t, time.Second, *opts.AttrTimeout)
}

func TestBuildOptionsToggles(t *testing.T) {
	opts := buildOptions(config.MountOptions{
		ReadOnly:           true,
		AllowOther:         true,
		AllowRoot:          true,
		DefaultPermissions: true,
		FSName:             "archive",
		ExtraOptions:       "noatime, async",
	})

	assert.Equal(t, "archive", opts.MountOptions.FsName)
	assert.True(t, opts.MountOptions.AllowOther)
	assert.Equal(t, []string{"ro", "allow_root", "default_permissions", "noatime", "async"},
		opts.MountOptions.Options)
}

// TestMountLifecycle exercises a real kernel mount and needs a FUSE
// device; it is skipped elsewhere.
func TestMountLifecycle(t *testing.T) {
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("no FUSE device available")
	}

	dir := filepath.Join(t.TempDir(), "mnt")
	backend := memory.New()
	require.NoError(t, backend.PutObject(context.Background(), "hello.txt", []byte("mounted")))

	s := NewSession(config.MountConfig{MountDir: dir}, backend, sessionLogger())
	handle, err := s.Start(context.Background())
	if err != nil {
		t.Skipf("mount not permitted here: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "mounted", string(data))

	require.NoError(t, handle.Release())
	select {
	case <-handle.Serving():
	case <-time.After(5 * time.Second):
		t.Fatal("serving channel not closed after release")
	}
}
