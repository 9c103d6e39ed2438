package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/hoist/internal/models"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestDetect_Dockerfile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Dockerfile")

	d, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, models.MethodDockerfile, d.Method)
	assert.Equal(t, "Dockerfile", d.File)
}

func TestDetect_Compose(t *testing.T) {
	for _, name := range ComposeFiles {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			touch(t, dir, name)

			d, err := Detect(dir)
			require.NoError(t, err)
			assert.Equal(t, models.MethodCompose, d.Method)
			assert.Equal(t, name, d.File)
		})
	}
}

func TestDetect_ComposeWinsOverDockerfile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Dockerfile")
	touch(t, dir, "docker-compose.yml")

	d, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, models.MethodCompose, d.Method)
}

func TestDetect_ComposeOrder(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "compose.yaml")
	touch(t, dir, "docker-compose.yaml")

	d, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "docker-compose.yaml", d.File)
}

func TestDetect_NoDescriptor(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "README.md")

	_, err := Detect(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDescriptor)
}

func TestDetect_DirectoryNamedDockerfileIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Dockerfile"), 0o755))

	_, err := Detect(dir)
	assert.ErrorIs(t, err, ErrNoDescriptor)
}

func TestDetect_MissingDir(t *testing.T) {
	_, err := Detect(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDescriptor)
}
