// Package readiness provides the liveness control endpoint: a unix
// socket that accepts connections and immediately drops them. A
// successful connect means the process is alive and the mount is up;
// nothing is ever read or written.
package readiness

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// Listener is a bound readiness endpoint.
type Listener struct {
	path     string
	listener net.Listener
	logger   *slog.Logger
}

// Listen removes any stale socket left by a previous run, then binds
// the endpoint. A bind failure (path occupied by a live listener,
// permission denied) is a startup failure for the caller to handle.
func Listen(path string, logger *slog.Logger) (*Listener, error) {
	// A stale socket from a crashed run would make the bind fail even
	// though nothing is listening. Removal of anything else at the
	// path is intentional: the path is exclusively ours.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %q: %w", path, err)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding readiness socket %q: %w", path, err)
	}

	logger.Info("readiness socket listening", "path", path)
	return &Listener{path: path, listener: l, logger: logger}, nil
}

// Path returns the bound socket path.
func (l *Listener) Path() string {
	return l.path
}

// AcceptLoop accepts and immediately closes connections until the
// listener is closed. onConnection, if non-nil, is invoked once per
// accepted connection. Individual accept errors are not surfaced; a
// transient failure (fd exhaustion, interrupted accept) must not take
// the liveness endpoint down while the mount keeps serving, so the
// loop only ends when Close tears the listener down.
func (l *Listener) AcceptLoop(onConnection func()) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("readiness accept failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		conn.Close()
		if onConnection != nil {
			onConnection()
		}
	}
}

// Close shuts the listener down and removes the socket path. Called
// exactly once during teardown, before the mount is released, so a
// connecting client never observes the socket without the mount.
func (l *Listener) Close() error {
	err := l.listener.Close()

	// The net package unlinks the socket on Close; the explicit
	// removal covers paths it does not own (fd-passed listeners).
	if removeErr := os.Remove(l.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		l.logger.Warn("removing readiness socket failed", "path", l.path, "error", removeErr)
	}
	return err
}
