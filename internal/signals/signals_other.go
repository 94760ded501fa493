//go:build !unix

package signals

import "os"

func platformSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
