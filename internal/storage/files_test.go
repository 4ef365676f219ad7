package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "a_b_c.bin", SanitizeFilename(`a/b\c.bin`))
	require.Equal(t, "movie_.mkv", SanitizeFilename("movie?.mkv"))
	require.Equal(t, "plain.txt", SanitizeFilename("  plain.txt "))

	long := strings.Repeat("a", 300) + ".iso"
	got := SanitizeFilename(long)
	require.LessOrEqual(t, len(got), 200)
	require.True(t, strings.HasSuffix(got, ".iso"))
}

func TestFilenameFromURL(t *testing.T) {
	require.Equal(t, "file.bin", FilenameFromURL("http://example.test/path/file.bin"))
	require.Equal(t, "my file.zip", FilenameFromURL("http://example.test/my%20file.zip"))
	require.Empty(t, FilenameFromURL("http://example.test/"))
	require.Empty(t, FilenameFromURL("http://example.test/noextension"))
	require.Empty(t, FilenameFromURL("://bad"))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	p := UniquePath(dir, "file.bin")
	require.Equal(t, filepath.Join(dir, "file.bin"), p)

	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	p2 := UniquePath(dir, "file.bin")
	require.Equal(t, filepath.Join(dir, "file_1.bin"), p2)

	require.NoError(t, os.WriteFile(p2, []byte("x"), 0644))
	require.Equal(t, filepath.Join(dir, "file_2.bin"), UniquePath(dir, "file.bin"))
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.bin"), []byte("aa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.bin"), []byte("bbbb"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	// Force distinct mtimes regardless of filesystem resolution.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.bin"), past, past))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2, "directories are excluded")
	require.Equal(t, "new.bin", files[0].Name)
	require.Equal(t, "old.bin", files[1].Name)
	require.Equal(t, int64(4), files[0].Size)
	require.NotEmpty(t, files[0].SizeFormatted)
}

func TestDeleteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	require.NoError(t, DeleteFile(dir, "doomed.bin"))
	require.NoFileExists(t, path)

	require.Error(t, DeleteFile(dir, "doomed.bin"))
}

func TestDeleteFileRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(dir, "..", "escape.bin")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))
	defer os.Remove(outside)

	require.Error(t, DeleteFile(dir, "../escape.bin"))
	require.Error(t, DeleteFile(dir, ".."))
	require.Error(t, DeleteFile(dir, ""))
	require.FileExists(t, outside)
}

func TestDisk(t *testing.T) {
	usage, err := Disk(t.TempDir())
	require.NoError(t, err)
	require.Greater(t, usage.Total, uint64(0))
	require.LessOrEqual(t, usage.Free, usage.Total)
}
