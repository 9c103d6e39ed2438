//go:build windows

package cmd

import "os"

// shutdownSignals returns the OS signals that abort a deployment.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
