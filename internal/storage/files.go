package storage

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
)

// maxFilenameLen caps sanitized names so they fit common filesystems.
const maxFilenameLen = 200

var invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename replaces characters that are invalid on common
// filesystems and truncates overlong names, keeping the extension.
func SanitizeFilename(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if len(name) > maxFilenameLen {
		ext := filepath.Ext(name)
		name = name[:maxFilenameLen-len(ext)] + ext
	}
	return name
}

// FilenameFromURL extracts a usable file name from the URL path.
// Returns "" when the path has no basename with an extension.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || !strings.Contains(base, ".") {
		return ""
	}
	return SanitizeFilename(base)
}

// UniquePath returns a path under dir that does not collide with an
// existing file, suffixing _1, _2, ... as needed.
func UniquePath(dir, filename string) string {
	p := filepath.Join(dir, filename)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for i := 1; ; i++ {
		p = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}

type FileInfo struct {
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"size_formatted"`
	Modified      time.Time `json:"modified"`
}

// ListFiles returns the regular files in dir, newest first.
func ListFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:          e.Name(),
			Size:          info.Size(),
			SizeFormatted: humanize.IBytes(uint64(info.Size())),
			Modified:      info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

// FilePath resolves name inside dir, rejecting anything that would
// escape it.
func FilePath(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", os.ErrNotExist
	}
	return filepath.Join(dir, name), nil
}

// DeleteFile removes one file from dir by name.
func DeleteFile(dir, name string) error {
	p, err := FilePath(dir, name)
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.ErrNotExist
	}
	return os.Remove(p)
}

type DiskUsage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// Disk reports filesystem usage for the volume holding dir.
func Disk(dir string) (DiskUsage, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return DiskUsage{}, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	return DiskUsage{Total: total, Used: total - free, Free: free}, nil
}
