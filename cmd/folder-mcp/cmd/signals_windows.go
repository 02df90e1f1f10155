//go:build windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals trigger graceful daemon shutdown. Windows honours only
// SIGTERM and SIGINT.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGTERM, syscall.SIGINT}
}

// reloadSignals is empty on Windows; reload requires a restart.
func reloadSignals() []os.Signal {
	return nil
}
