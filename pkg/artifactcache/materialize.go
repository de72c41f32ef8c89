package artifactcache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/calvinalkan/artifactcache/internal/fs"
)

// materialize places the content of src at dst, replacing dst if it exists.
//
// It hard-links when possible and copies otherwise (e.g. across
// filesystems). Either way the result appears at dst through a rename, so
// readers of dst never see a partial file.
func materialize(fsys fs.FS, src, dst string) error {
	if err := fsys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating target dir: %w", err)
	}

	tmp := tempPath(dst)

	if err := fsys.Link(src, tmp); err != nil {
		if err := copyFile(fsys, src, tmp); err != nil {
			_ = fsys.Remove(tmp)

			return err
		}
	}

	if err := fsys.Rename(tmp, dst); err != nil {
		_ = fsys.Remove(tmp)

		return fmt.Errorf("replacing target: %w", err)
	}

	// rename(2) is a no-op when tmp and dst are already links to the same
	// inode, which leaves tmp behind.
	if err := fsys.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing temp link: %w", err)
	}

	return nil
}

func copyFile(fsys fs.FS, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("opening cached payload: %w", err)
	}

	defer func() { _ = in.Close() }()

	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating target copy: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return fmt.Errorf("copying payload: %w", err)
	}

	if err := out.Sync(); err != nil {
		_ = out.Close()

		return fmt.Errorf("syncing target copy: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("closing target copy: %w", err)
	}

	return nil
}

// writeFileAt writes data to a fresh temp sibling of path and renames it
// into place. Unlike [fs.FS.WriteFileAtomic] the temp name is bounded, so it
// is safe for entry files whose names are near the length limit.
func writeFileAt(fsys fs.FS, path string, data []byte) error {
	tmp := tempPath(path)

	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err == nil {
		err = fsys.Rename(tmp, path)
	}

	if err != nil {
		_ = fsys.Remove(tmp)

		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}

	return nil
}
