//go:build !windows

package lock

import "syscall"

// Holder returns the recorded PID and whether that process is alive.
func (l *Lock) Holder() (int, bool) {
	pid, err := l.Read()
	if err != nil {
		return 0, false
	}
	// Signal 0 tests if the process exists without sending a signal.
	err = syscall.Kill(pid, 0)
	return pid, err == nil || err == syscall.EPERM
}
