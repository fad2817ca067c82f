package lifecycle

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyTermination subscribes to the two recognized termination
// requests. The channel receives the first signal that arrives; any
// later one is irrelevant because the process is already exiting.
// The returned stop function releases the subscription.
func notifyTermination() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}
