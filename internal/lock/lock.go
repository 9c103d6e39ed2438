// Package lock keeps two local runs from deploying to the same host at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("another deployment is running")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// writeGrace is how long an empty or unparsable lock file is assumed to be
// mid-write by its creator rather than abandoned.
const writeGrace = 5 * time.Second

// Lock is a PID file under <dir>/<key>.pid.
type Lock struct {
	Path string
}

// PathFor returns the lock file for key under dir.
func PathFor(dir, key string) string {
	name := unsafeChars.ReplaceAllString(key, "_")
	if name == "" {
		name = "default"
	}
	return filepath.Join(dir, name+".pid")
}

// Acquire creates the lock file for key with the current PID. A file left
// behind by a dead process is replaced.
func Acquire(dir, key string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	l := &Lock{Path: PathFor(dir, key)}

	for range 2 {
		err := l.create()
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		pid, running := l.Holder()
		if running {
			return nil, fmt.Errorf("%w for %s (pid %d, lock %s)", ErrLocked, key, pid, l.Path)
		}
		if pid == 0 && l.fresh() {
			return nil, fmt.Errorf("%w for %s (lock %s is being written)", ErrLocked, key, l.Path)
		}
		if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w for %s (lock %s)", ErrLocked, key, l.Path)
}

// fresh reports whether the lock file was modified within writeGrace.
func (l *Lock) fresh() bool {
	info, err := os.Stat(l.Path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < writeGrace
}

func (l *Lock) create() error {
	f, err := os.OpenFile(l.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, err = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Read returns the PID recorded in the lock file.
func (l *Lock) Read() (int, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid lock file content: %w", err)
	}
	return pid, nil
}

// Release removes the lock file if it still belongs to this process.
func (l *Lock) Release() error {
	pid, err := l.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
