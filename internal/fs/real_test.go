package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Real_WriteFileAtomic_Replaces_Content_And_Applies_Perm(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), ".cleanup.scan.cursor")

	require.NoError(t, fsys.WriteFileAtomic(path, []byte("first"), 0o600))
	require.NoError(t, fsys.WriteFileAtomic(path, []byte("second"), 0o644))

	got, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	info, err := fsys.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func Test_Real_Exists_Reports_Missing_Without_Error(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()

	ok, err := fsys.Exists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fsys.Exists(dir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_Real_Link_Shares_Inode_With_Source(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()
	src := filepath.Join(dir, "payload")
	dst := filepath.Join(dir, "out.jar")

	require.NoError(t, os.WriteFile(src, []byte("jar"), 0o644))
	require.NoError(t, fsys.Link(src, dst))

	srcInfo, err := fsys.Stat(src)
	require.NoError(t, err)
	dstInfo, err := fsys.Stat(dst)
	require.NoError(t, err)
	assert.True(t, os.SameFile(srcInfo, dstInfo))
}

func Test_Real_Chtimes_Sets_Modification_Time(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "entry.meta")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	old := time.Date(2020, time.March, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fsys.Chtimes(path, old, old))

	info, err := fsys.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "mtime = %v, want %v", info.ModTime(), old)
}
