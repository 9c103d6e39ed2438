// Package detect decides how an application is started from the files at the
// root of its working tree.
package detect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joescharf/hoist/internal/models"
)

// ErrNoDescriptor is returned when neither a compose manifest nor a
// Dockerfile exists.
var ErrNoDescriptor = errors.New("no deployment descriptor found")

// ComposeFiles are the compose manifest names, checked in order.
var ComposeFiles = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// Dockerfile is the descriptor for single-image deployments.
const Dockerfile = "Dockerfile"

// Detection is the chosen method and the file that decided it.
type Detection struct {
	Method models.Method
	File   string
}

// Detect inspects dir. A compose manifest always wins over a Dockerfile.
func Detect(dir string) (*Detection, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inspect %s: not a directory", dir)
	}

	for _, name := range ComposeFiles {
		if isFile(filepath.Join(dir, name)) {
			return &Detection{Method: models.MethodCompose, File: name}, nil
		}
	}
	if isFile(filepath.Join(dir, Dockerfile)) {
		return &Detection{Method: models.MethodDockerfile, File: Dockerfile}, nil
	}
	return nil, fmt.Errorf("%w in %s (looked for %s and %s)", ErrNoDescriptor, dir, ComposeFiles[0], Dockerfile)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
