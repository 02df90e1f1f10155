//go:build unix

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals trigger graceful daemon shutdown.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT}
}

// reloadSignals trigger configuration reload. SIGUSR2 is reserved and
// deliberately absent.
func reloadSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP, syscall.SIGUSR1}
}
