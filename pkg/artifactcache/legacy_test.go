package artifactcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/artifactcache/internal/fs"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()

	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	}
}

func Test_New_Removes_Legacy_Layout_And_Keeps_Unrelated_Files(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	key := Key{Lo: 77, Hi: 3}.String()

	writeFiles(t, root,
		"v0/entries/ab/whatever",
		"v7/foo",
		key+"__app.jar",
		key+"__app.jar.meta",
		key+"__app.jar.mark",
		key+"__app.jar.meta.mark",
		".last.cleanup.marker",
		"notes.txt",
		"vendor/keep",
		"no-separator.meta",
		"v2x/keep",
	)

	c := newTestCache(t, Options{Dir: root, Version: 2})
	out := c.LegacyOutcome()

	require.NoError(t, out.Err())
	assert.False(t, out.Skipped)
	assert.True(t, out.MarkerWritten)
	assert.Equal(t, 2, out.RemovedDirs)
	assert.Equal(t, 5, out.RemovedFiles)

	for _, gone := range []string{"v0", "v7", key + "__app.jar", key + "__app.jar.meta", key + "__app.jar.mark",
		key + "__app.jar.meta.mark", ".last.cleanup.marker"} {
		assert.False(t, fileExists(t, filepath.Join(root, gone)), "%s should be removed", gone)
	}

	for _, kept := range []string{"notes.txt", "vendor/keep", "no-separator.meta", "v2x/keep", "v2/entries",
		".legacy-format-purged.2"} {
		assert.True(t, fileExists(t, filepath.Join(root, kept)), "%s should be kept", kept)
	}
}

func Test_New_Skips_Legacy_Scan_When_Purge_Marker_Exists(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	first := newTestCache(t, Options{Dir: root})
	require.True(t, first.LegacyOutcome().MarkerWritten)

	// Looks legacy, but the marker says the scan already happened.
	writeFiles(t, root, "v0/late")

	second := newTestCache(t, Options{Dir: root})
	out := second.LegacyOutcome()

	assert.True(t, out.Skipped)
	assert.Zero(t, out.RemovedDirs)
	assert.True(t, fileExists(t, filepath.Join(root, "v0", "late")))
}

func Test_New_Keeps_Current_Version_Dir_During_Migration(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := newTestCache(t, Options{Dir: root, Version: 1})
	paths := seedEntry(t, c, Key{Lo: 1, Hi: 1}, "a.jar")

	require.NoError(t, os.Remove(filepath.Join(root, ".legacy-format-purged.1")))

	again := newTestCache(t, Options{Dir: root, Version: 1})
	assert.Zero(t, again.LegacyOutcome().RemovedDirs)
	assert.True(t, fileExists(t, paths.payload))

	bumped := newTestCache(t, Options{Dir: root, Version: 2})
	assert.Equal(t, 1, bumped.LegacyOutcome().RemovedDirs)
	assert.False(t, fileExists(t, paths.payload))
}

func Test_MigrateLegacy_Swallows_Failures_And_Retries_Next_Time(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, "v0/x", "v3/y")

	chaos := fs.NewChaos(fs.NewReal(), 11, fs.ChaosConfig{RemoveFailRate: 1})
	chaos.SetMode(fs.ChaosModeInject)

	l := newLayout(root, 1)

	out := migrateLegacy(chaos, l)
	require.Error(t, out.Err())
	assert.True(t, fs.IsInjected(out.Errors[0]))
	assert.False(t, out.MarkerWritten)
	assert.True(t, fileExists(t, filepath.Join(root, "v0")))

	chaos.SetMode(fs.ChaosModePassthrough)

	out = migrateLegacy(chaos, l)
	require.NoError(t, out.Err())
	assert.Equal(t, 2, out.RemovedDirs)
	assert.True(t, out.MarkerWritten)
}

func Test_MigrateLegacy_Reports_Error_When_Root_Is_Missing(t *testing.T) {
	t.Parallel()

	l := newLayout(filepath.Join(t.TempDir(), "missing"), 1)

	out := migrateLegacy(fs.NewReal(), l)
	assert.Error(t, out.Err())
	assert.False(t, out.MarkerWritten)
	assert.False(t, out.Skipped)
}
