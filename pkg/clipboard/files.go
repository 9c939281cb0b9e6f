package clipboard

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lamco-desktop/wlcast/pkg/wlerr"
)

// FileInfo describes one clipboard-carried file, as reported by
// GetFileList.
type FileInfo struct {
	Name     string
	Size     int64
	IsDir    bool
	Modified time.Time
}

// fileListCache holds the local paths behind the most recent
// GetFileList call, indexed by position so ReadFileChunk can address
// them by index.
type fileListCache struct {
	mu    sync.Mutex
	paths []string
}

func newFileListCache() *fileListCache {
	return &fileListCache{}
}

func (c *fileListCache) set(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = paths
}

func (c *fileListCache) get(index uint32) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(index) >= len(c.paths) {
		return "", false
	}
	return c.paths[index], true
}

// uriListMimeTypes are tried in order; the second is GNOME's legacy
// Nautilus format (still emitted by some file managers).
var uriListMimeTypes = []string{"text/uri-list", "x-special/gnome-copied-files"}

// GetFileList reads the clipboard's file-reference MIME type,
// decodes each file:// URI, stats the target, and caches the
// resulting path list for subsequent ReadFileChunk calls.
func (b *Bridge) GetFileList() ([]FileInfo, error) {
	var raw []byte
	var err error
	for _, mime := range uriListMimeTypes {
		raw, err = b.session.SelectionRead(mime)
		if err == nil && len(raw) > 0 {
			break
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var infos []FileInfo
	var paths []string

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		path, ok := decodeFileURI(line)
		if !ok {
			continue
		}

		st, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}

		infos = append(infos, FileInfo{
			Name:     st.Name(),
			Size:     st.Size(),
			IsDir:    st.IsDir(),
			Modified: st.ModTime(),
		})
		paths = append(paths, path)
	}

	b.files.set(paths)
	return infos, nil
}

// decodeFileURI strips a file:// scheme and percent-decodes the
// remainder. Lines without that scheme are not file references
// (x-special/gnome-copied-files prefixes its first line with a
// clipboard action token) and are skipped.
func decodeFileURI(line string) (string, bool) {
	const scheme = "file://"
	if !strings.HasPrefix(line, scheme) {
		return "", false
	}
	decoded, err := url.PathUnescape(strings.TrimPrefix(line, scheme))
	if err != nil {
		return "", false
	}
	return decoded, true
}

// ReadFileChunk reads up to size bytes at offset from the cached path
// at index, populated by the most recent GetFileList call. The
// returned slice is truncated to the bytes actually read (shorter
// than size at end-of-file).
func (b *Bridge) ReadFileChunk(index uint32, offset uint64, size uint32) ([]byte, error) {
	path, ok := b.files.get(index)
	if !ok {
		return nil, wlerr.New(wlerr.KindInvalidParameter, "read_file_chunk", fmt.Errorf("no cached file at index %d", index))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, wlerr.New(wlerr.KindIoError, "read_file_chunk", err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(offset), 0); err != nil {
		return nil, wlerr.New(wlerr.KindIoError, "read_file_chunk", err)
	}

	buf := make([]byte, size)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, wlerr.New(wlerr.KindIoError, "read_file_chunk", err)
	}
	return buf[:n], nil
}
