// Package lifecycle coordinates the mount session from startup through
// teardown: it starts the filesystem, publishes the readiness endpoint,
// waits for a shutdown trigger, and releases everything in a fixed
// order so that observers never see the endpoint without a live mount.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/driftfs/driftfs/internal/metrics"
	"github.com/driftfs/driftfs/internal/readiness"
)

// Handle is a running mount session. Serving is closed when the
// filesystem stops serving on its own (external unmount, connection
// loss). Release tears the mount down.
type Handle interface {
	Serving() <-chan struct{}
	Release() error
}

// Starter starts a mount session and hands back its Handle. A startup
// error means nothing was mounted and there is nothing to release.
type Starter interface {
	Start(ctx context.Context) (Handle, error)
}

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context) (Handle, error)

// Start calls f.
func (f StarterFunc) Start(ctx context.Context) (Handle, error) {
	return f(ctx)
}

// Coordinator owns the mount session lifecycle. It guarantees that
// Release is called at most once, that the readiness endpoint is
// removed before the mount is released, and that a readiness bind
// failure after a successful mount rolls the mount back.
type Coordinator struct {
	session    Starter
	socketPath string
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// NewCoordinator returns a Coordinator publishing readiness at
// socketPath.
func NewCoordinator(session Starter, socketPath string, collector *metrics.Collector, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		session:    session,
		socketPath: socketPath,
		metrics:    collector,
		logger:     logger,
	}
}

// Run drives the session from startup to exit. It returns nil only
// after a fully graceful shutdown: a startup failure, a readiness bind
// failure, or a release error all surface as a non-nil error.
func (c *Coordinator) Run(ctx context.Context) error {
	// Subscribe before starting the mount so a signal delivered during
	// startup is not lost.
	sigCh, stop := notifyTermination()
	defer stop()

	handle, err := c.session.Start(ctx)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	c.metrics.RecordMounted()

	listener, err := readiness.Listen(c.socketPath, c.logger)
	if err != nil {
		// The mount is already live, so roll it back before
		// reporting the failure. A partially created socket file
		// must not survive either.
		c.metrics.RecordShutdown(metrics.CauseBindFailure)
		if rmErr := os.Remove(c.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logger.Warn("failed to remove readiness socket", "path", c.socketPath, "error", rmErr)
		}
		relErr := handle.Release()
		c.metrics.RecordUnmount(relErr)
		if relErr != nil {
			c.logger.Error("rollback unmount failed", "error", relErr)
		}
		return fmt.Errorf("startup: readiness socket: %w", err)
	}
	go listener.AcceptLoop(c.metrics.RecordReadinessConnection)

	var cause string
	select {
	case <-handle.Serving():
		c.logger.Info("filesystem stopped serving")
		cause = metrics.CauseServeEnded
	case sig := <-sigCh:
		c.logger.Info("termination signal received", "signal", sig.String())
		cause = metrics.CauseSignal
	}
	c.metrics.RecordShutdown(cause)

	// Teardown order is fixed: the readiness socket disappears first
	// so nothing can observe readiness while the mount is going away.
	if err := listener.Close(); err != nil {
		c.logger.Warn("failed to close readiness socket", "error", err)
	}

	relErr := handle.Release()
	c.metrics.RecordUnmount(relErr)
	if relErr != nil {
		// After the filesystem stopped on its own (external unmount)
		// the OS mount is usually already gone; failing to unmount it
		// again is not a teardown failure.
		if cause == metrics.CauseServeEnded {
			c.logger.Warn("release after filesystem stopped", "error", relErr)
		} else {
			c.logger.Error("unmount failed", "error", relErr)
			return fmt.Errorf("teardown: %w", relErr)
		}
	}
	c.logger.Info("shutdown complete")
	return nil
}
