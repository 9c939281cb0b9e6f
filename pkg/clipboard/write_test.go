package clipboard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeBasename(t *testing.T) {
	assert.Equal(t, "b_c", sanitizeBasename("a/b\\c"))
	assert.Equal(t, "file_name.txt", sanitizeBasename(`file"name.txt`))
	assert.Equal(t, "report.pdf", sanitizeBasename("/home/user/report.pdf"))
	assert.Equal(t, "a_b_c_d_e_f_g_h_i", sanitizeBasename("a:b*c?d\"e<f>g|h\x00i"))
}

func TestUniqueDestPathNoCollision(t *testing.T) {
	dir := t.TempDir()
	got := uniqueDestPath(dir, "new.txt")
	assert.Equal(t, filepath.Join(dir, "new.txt"), got)
}

func TestUniqueDestPathCollision(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("x"), 0o644))

	got := uniqueDestPath(dir, "dup.txt")
	assert.Equal(t, filepath.Join(dir, "dup (1).txt"), got)
}

func TestUniqueDestPathMultipleCollisions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup (1).txt"), []byte("x"), 0o644))

	got := uniqueDestPath(dir, "dup.txt")
	assert.Equal(t, filepath.Join(dir, "dup (2).txt"), got)
}

func TestDownloadDestinationFallsBackToTmp(t *testing.T) {
	t.Setenv("XDG_DOWNLOAD_DIR", "")
	t.Setenv("HOME", "")
	assert.Equal(t, "/tmp", downloadDestination())
}

func TestDownloadDestinationPrefersXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DOWNLOAD_DIR", dir)
	assert.Equal(t, dir, downloadDestination())
}

func TestBridgeWriteFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DOWNLOAD_DIR", dir)

	b := New(nil, zerolog.Nop())
	destPath, err := b.WriteFile("/some/remote/path/notes.txt", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), destPath)

	contents, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(contents))
}
