//go:build windows

package lock

import (
	"os"
	"syscall"
)

// Holder returns the recorded PID and whether that process is alive.
func (l *Lock) Holder() (int, bool) {
	pid, err := l.Read()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	err = proc.Signal(syscall.Signal(0))
	return pid, err == nil
}
