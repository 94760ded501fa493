// Package signals turns OS shutdown signals into context cancellation for the
// long-running commands (serve, chat).
package signals

import (
	"context"
	"os"
	"os/signal"
)

// ShutdownSignals returns the signals that trigger graceful shutdown.
func ShutdownSignals() []os.Signal {
	return platformSignals()
}

// notifyContext is signal.NotifyContext; tests may replace it.
var notifyContext = signal.NotifyContext

// Context returns a copy of parent that is canceled on the first shutdown
// signal. stop releases the signal registration.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return notifyContext(parent, ShutdownSignals()...)
}
