// Package transfer copies a local working tree to a remote directory,
// uploading only files whose size or modification time differ.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

// ErrTransferFailed wraps every failure of a sync.
var ErrTransferFailed = errors.New("transfer failed")

// FS is the destination side of a transfer. Paths are slash separated.
type FS interface {
	Stat(name string) (os.FileInfo, error)
	MkdirAll(dir string) error
	Create(name string) (io.WriteCloser, error)
	Chmod(name string, mode os.FileMode) error
	Chtimes(name string, atime, mtime time.Time) error
}

// Stats summarises a sync.
type Stats struct {
	Uploaded int
	Skipped  int
	Ignored  int
	Bytes    int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d uploaded, %d unchanged, %d ignored (%d bytes)", s.Uploaded, s.Skipped, s.Ignored, s.Bytes)
}

// Sync mirrors localDir into remoteDir on dst. Files are never deleted on
// the destination.
func Sync(ctx context.Context, dst FS, localDir, remoteDir string, ign *Ignore) (*Stats, error) {
	stats := &Stats{}
	if err := dst.MkdirAll(remoteDir); err != nil {
		return stats, fmt.Errorf("%w: create %s: %w", ErrTransferFailed, remoteDir, err)
	}

	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		target := path.Join(remoteDir, rel)

		if ign.Match(rel, d.IsDir()) {
			stats.Ignored++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if err := dst.MkdirAll(target); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			return nil
		}

		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			// sockets, devices and links to directories
			stats.Ignored++
			return nil
		}

		if unchanged(dst, target, info) {
			stats.Skipped++
			return nil
		}
		n, err := upload(dst, p, target, info)
		if err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		stats.Uploaded++
		stats.Bytes += n
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return stats, err
		}
		return stats, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return stats, nil
}

func unchanged(dst FS, target string, local os.FileInfo) bool {
	remote, err := dst.Stat(target)
	if err != nil || !remote.Mode().IsRegular() {
		return false
	}
	return remote.Size() == local.Size() && remote.ModTime().Unix() == local.ModTime().Unix()
}

func upload(dst FS, src, target string, info os.FileInfo) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := dst.Create(target)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}

	if err := dst.Chmod(target, info.Mode().Perm()); err != nil {
		return n, err
	}
	if err := dst.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
		return n, err
	}
	return n, nil
}
