package clipboard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lamco-desktop/wlcast/pkg/wlerr"
)

// forbiddenPathChars are replaced with "_" when sanitizing a
// clipboard-supplied filename.
const forbiddenPathChars = "/\\\x00:*?\"<>|"

func sanitizeBasename(name string) string {
	base := filepath.Base(name)
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenPathChars, r) {
			return '_'
		}
		return r
	}, base)
}

// downloadDestination picks the directory clipboard files land in:
// $XDG_DOWNLOAD_DIR if set, else $HOME/Downloads, else /tmp. Each
// candidate is consulted then verified to exist before falling
// through to the next.
func downloadDestination() string {
	if dir := os.Getenv("XDG_DOWNLOAD_DIR"); dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	if home := os.Getenv("HOME"); home != "" {
		dir := filepath.Join(home, "Downloads")
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	return "/tmp"
}

// uniqueDestPath returns a path under dir for filename that doesn't
// already exist, appending " (N)" for N=1..999 on collision and
// finally falling back to a nanosecond timestamp suffix.
func uniqueDestPath(dir, filename string) string {
	destPath := filepath.Join(dir, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destPath
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	for i := 1; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}

	return filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, time.Now().UnixNano(), ext))
}

// WriteFile writes data to a sanitized basename of path under the
// configured download destination, avoiding name collisions, and
// fsyncs before returning so the bytes are durable once this call
// completes.
func (b *Bridge) WriteFile(path string, data []byte) (string, error) {
	filename := sanitizeBasename(path)
	if filename == "" || filename == "." {
		return "", wlerr.New(wlerr.KindInvalidParameter, "write_file", fmt.Errorf("empty filename"))
	}

	dir := downloadDestination()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", wlerr.New(wlerr.KindIoError, "write_file", err)
	}

	destPath := uniqueDestPath(dir, filename)

	f, err := os.Create(destPath)
	if err != nil {
		return "", wlerr.New(wlerr.KindIoError, "write_file", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", wlerr.New(wlerr.KindIoError, "write_file", err)
	}
	if err := unix.Fsync(int(f.Fd())); err != nil {
		return "", wlerr.New(wlerr.KindIoError, "write_file", err)
	}

	return destPath, nil
}
