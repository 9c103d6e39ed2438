package remote

import (
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
)

// sftpFS adapts an sftp client to transfer.FS.
type sftpFS struct {
	c *sftp.Client
}

func (f *sftpFS) Stat(name string) (os.FileInfo, error) { return f.c.Stat(name) }
func (f *sftpFS) MkdirAll(dir string) error           { return f.c.MkdirAll(dir) }

func (f *sftpFS) Create(name string) (io.WriteCloser, error) {
	return f.c.Create(name)
}

func (f *sftpFS) Chmod(name string, mode os.FileMode) error {
	return f.c.Chmod(name, mode)
}

func (f *sftpFS) Chtimes(name string, atime, mtime time.Time) error {
	return f.c.Chtimes(name, atime, mtime)
}
