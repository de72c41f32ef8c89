package artifactcache

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/calvinalkan/artifactcache/internal/fs"
)

// scanCursor is the last entry a cleanup scan visited. The zero value
// means "start from the first shard".
type scanCursor struct {
	shard string
	stem  string
}

func (c scanCursor) isZero() bool {
	return c.shard == "" && c.stem == ""
}

func (c scanCursor) String() string {
	if c.isZero() {
		return ""
	}

	return c.shard + "/" + c.stem
}

// parseScanCursor accepts the format written by [writeScanCursor]. Anything
// else decodes as the zero cursor.
func parseScanCursor(data []byte) scanCursor {
	line := strings.TrimSpace(string(data))

	shard, stem, ok := strings.Cut(line, "/")
	if !ok || shard == "" || stem == "" || strings.Contains(stem, "/") {
		return scanCursor{}
	}

	return scanCursor{shard: shard, stem: stem}
}

func readScanCursor(fsys fs.FS, path string) (scanCursor, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return scanCursor{}, nil
		}

		return scanCursor{}, fmt.Errorf("reading scan cursor: %w", err)
	}

	return parseScanCursor(data), nil
}

func writeScanCursor(fsys fs.FS, path string, c scanCursor) error {
	data := c.String()
	if data != "" {
		data += "\n"
	}

	if err := fsys.WriteFileAtomic(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("writing scan cursor: %w", err)
	}

	return nil
}
