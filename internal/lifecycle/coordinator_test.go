package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/internal/metrics"
)

type fakeHandle struct {
	serving chan struct{}

	mu         sync.Mutex
	releases   int
	releaseErr error
	onRelease  func()
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{serving: make(chan struct{})}
}

func (h *fakeHandle) Serving() <-chan struct{} { return h.serving }

func (h *fakeHandle) Release() error {
	h.mu.Lock()
	h.releases++
	h.mu.Unlock()
	if h.onRelease != nil {
		h.onRelease()
	}
	return h.releaseErr
}

func (h *fakeHandle) releaseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("readiness socket %s never appeared", path)
}

func TestRunSignalShutdown(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ready.sock")
	handle := newFakeHandle()

	// The socket must already be gone by the time the mount is
	// released.
	var socketGoneAtRelease bool
	handle.onRelease = func() {
		_, err := os.Stat(socket)
		socketGoneAtRelease = os.IsNotExist(err)
	}

	start := StarterFunc(func(ctx context.Context) (Handle, error) {
		return handle, nil
	})
	coord := NewCoordinator(start, socket, metrics.NewCollector(), testLogger())

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	waitForSocket(t, socket)

	// The readiness endpoint accepts and drops connections while the
	// mount is up.
	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	conn.Close()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not shut down after SIGTERM")
	}

	assert.Equal(t, 1, handle.releaseCount())
	assert.True(t, socketGoneAtRelease, "socket should be removed before the mount is released")
	_, err = os.Stat(socket)
	assert.True(t, os.IsNotExist(err))
}

func TestRunServeEnded(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ready.sock")
	handle := newFakeHandle()

	var socketGoneAtRelease bool
	handle.onRelease = func() {
		_, err := os.Stat(socket)
		socketGoneAtRelease = os.IsNotExist(err)
	}

	start := StarterFunc(func(ctx context.Context) (Handle, error) {
		return handle, nil
	})
	coord := NewCoordinator(start, socket, metrics.NewCollector(), testLogger())

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	waitForSocket(t, socket)

	// Simulate the filesystem stopping on its own, as after an
	// external unmount.
	close(handle.serving)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not shut down after serving ended")
	}

	assert.Equal(t, 1, handle.releaseCount())
	assert.True(t, socketGoneAtRelease, "socket should be removed before the mount is released")
}

func TestRunStartupFailure(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ready.sock")
	startErr := errors.New("backend unreachable")

	start := StarterFunc(func(ctx context.Context) (Handle, error) {
		return nil, startErr
	})
	coord := NewCoordinator(start, socket, metrics.NewCollector(), testLogger())

	err := coord.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, startErr)

	// Nothing was mounted, so no readiness endpoint was ever created.
	_, statErr := os.Stat(socket)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunBindFailureRollsBackMount(t *testing.T) {
	// A socket path inside a directory that does not exist cannot be
	// bound.
	socket := filepath.Join(t.TempDir(), "missing", "ready.sock")
	handle := newFakeHandle()

	start := StarterFunc(func(ctx context.Context) (Handle, error) {
		return handle, nil
	})
	coord := NewCoordinator(start, socket, metrics.NewCollector(), testLogger())

	err := coord.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, handle.releaseCount(), "mount should be rolled back after a bind failure")
}

func TestRunReleaseErrorSurfaces(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ready.sock")
	handle := newFakeHandle()
	handle.releaseErr = errors.New("unmount: device busy")

	start := StarterFunc(func(ctx context.Context) (Handle, error) {
		return handle, nil
	})
	coord := NewCoordinator(start, socket, metrics.NewCollector(), testLogger())

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	waitForSocket(t, socket)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, handle.releaseErr)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not shut down")
	}
	assert.Equal(t, 1, handle.releaseCount())
}

func TestRunServeEndedToleratesReleaseError(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ready.sock")
	handle := newFakeHandle()
	// An externally unmounted filesystem leaves nothing to release.
	handle.releaseErr = errors.New("unmount: not mounted")

	start := StarterFunc(func(ctx context.Context) (Handle, error) {
		return handle, nil
	})
	coord := NewCoordinator(start, socket, metrics.NewCollector(), testLogger())

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	waitForSocket(t, socket)
	close(handle.serving)

	select {
	case err := <-done:
		assert.NoError(t, err, "natural completion should still exit cleanly")
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not shut down")
	}
	assert.Equal(t, 1, handle.releaseCount())

	// Teardown still removed the readiness socket first.
	_, statErr := os.Stat(socket)
	assert.True(t, os.IsNotExist(statErr))
}
