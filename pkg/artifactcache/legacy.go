package artifactcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/artifactcache/internal/fs"
)

// migrateLegacy removes data written by older cache formats from the cache
// root, once per cache version. It recognizes:
//
//   - version directories v<digits> other than the current one
//   - flat root-level entries: <key>__<name>.meta with their payload
//     <key>__<name> and marks <key>__<name>.mark, <key>__<name>.meta.mark
//   - a root-level .last.cleanup.marker
//
// Everything else in the root is left alone. The purge marker is written
// only when every removal succeeded, so a failed run is retried on the next
// open.
func migrateLegacy(fsys fs.FS, l layout) MigrationOutcome {
	var out MigrationOutcome

	marker := l.purgeMarkerPath()

	exists, err := fsys.Exists(marker)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Errorf("checking purge marker: %w", err))

		return out
	}

	if exists {
		out.Skipped = true

		return out
	}

	dirEntries, err := fsys.ReadDir(l.root)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Errorf("listing cache root: %w", err))

		return out
	}

	current := versionDirName(l.version)

	for _, de := range dirEntries {
		name := de.Name()
		path := filepath.Join(l.root, name)

		switch {
		case name == current || strings.HasPrefix(name, purgeMarkerStem):
			continue
		case de.IsDir():
			if !isVersionDirName(name) {
				continue
			}

			if err := fsys.RemoveAll(path); err != nil {
				out.Errors = append(out.Errors, fmt.Errorf("removing %s: %w", name, err))

				continue
			}

			out.RemovedDirs++
		case name == cleanupMarker:
			removeLegacyFile(fsys, path, &out)
		case strings.HasSuffix(name, metaSuffix):
			stem := strings.TrimSuffix(name, metaSuffix)
			if !isEntryStem(stem) {
				continue
			}

			payload := filepath.Join(l.root, stem)

			removeLegacyFile(fsys, path, &out)
			removeLegacyFile(fsys, payload, &out)
			removeLegacyFile(fsys, payload+markSuffix, &out)
			removeLegacyFile(fsys, path+markSuffix, &out)
		}
	}

	if len(out.Errors) > 0 {
		return out
	}

	if err := fsys.WriteFileAtomic(marker, nil, 0o644); err != nil {
		out.Errors = append(out.Errors, fmt.Errorf("writing purge marker: %w", err))

		return out
	}

	out.MarkerWritten = true

	return out
}

func removeLegacyFile(fsys fs.FS, path string, out *MigrationOutcome) {
	err := fsys.Remove(path)

	switch {
	case err == nil:
		out.RemovedFiles++
	case errors.Is(err, os.ErrNotExist):
	default:
		out.Errors = append(out.Errors, fmt.Errorf("removing %s: %w", filepath.Base(path), err))
	}
}

func isVersionDirName(name string) bool {
	if len(name) < 2 || name[0] != 'v' {
		return false
	}

	for i := 1; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}

	return true
}
