//go:build unix

package signals

import (
	"os"
	"syscall"
)

// SIGTERM is what container runtimes and process managers send.
func platformSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
