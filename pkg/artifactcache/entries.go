package artifactcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/calvinalkan/artifactcache/internal/fs"
)

// EntryInfo describes one entry as found on disk.
type EntryInfo struct {
	Key   Key
	Shard string
	Stem  string
	// Name is the sanitized target name.
	Name string

	Payload string
	Meta    string

	HasPayload bool
	HasMeta    bool
	Marked     bool

	// Size is the payload size in bytes, or 0 without a payload.
	Size int64
	// LastAccess is the metadata mtime, or zero without metadata.
	LastAccess time.Time
}

// stemFiles records which of an entry's files a directory listing showed.
type stemFiles struct {
	payload bool
	meta    bool
	mark    bool
}

// shardListing is one shard directory grouped by entry stem.
type shardListing struct {
	stems []string
	files map[string]*stemFiles
	temps []string
}

// listShardDirs returns the shard directory names under entriesDir, sorted.
func listShardDirs(fsys fs.FS, entriesDir string) ([]string, error) {
	dirEntries, err := fsys.ReadDir(entriesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("listing shards: %w", err)
	}

	shards := make([]string, 0, len(dirEntries))

	for _, de := range dirEntries {
		if de.IsDir() && !strings.HasPrefix(de.Name(), ".") {
			shards = append(shards, de.Name())
		}
	}

	return shards, nil
}

// listShard groups the files of dir by stem. Files whose stem does not
// parse as <key>__<name> are ignored; temp files are reported separately.
func listShard(fsys fs.FS, dir string) (shardListing, error) {
	dirEntries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return shardListing{}, nil
		}

		return shardListing{}, fmt.Errorf("listing shard: %w", err)
	}

	listing := shardListing{files: make(map[string]*stemFiles)}

	for _, de := range dirEntries {
		name := de.Name()

		if de.IsDir() {
			continue
		}

		if isTempName(name) {
			listing.temps = append(listing.temps, name)

			continue
		}

		stem, kind := classifyEntryFile(name)
		if !isEntryStem(stem) {
			continue
		}

		sf, ok := listing.files[stem]
		if !ok {
			sf = &stemFiles{}
			listing.files[stem] = sf
			listing.stems = append(listing.stems, stem)
		}

		switch kind {
		case metaSuffix:
			sf.meta = true
		case markSuffix:
			sf.mark = true
		default:
			sf.payload = true
		}
	}

	slices.Sort(listing.stems)

	return listing, nil
}

// classifyEntryFile strips a sidecar suffix from name and returns the stem
// and the suffix ("" for a payload).
func classifyEntryFile(name string) (stem string, suffix string) {
	for _, s := range []string{metaSuffix, markSuffix} {
		if strings.HasSuffix(name, s) {
			return strings.TrimSuffix(name, s), s
		}
	}

	return name, ""
}

func isEntryStem(stem string) bool {
	key, _, ok := splitStem(stem)
	if !ok {
		return false
	}

	_, err := ParseKey(key)

	return err == nil
}

// Entries calls fn for every entry in shard and stem order. It takes no
// locks and changes nothing, so the listing may be stale by the time fn
// runs. Iteration stops at the first error from fn or when ctx is done.
func (c *Cache) Entries(ctx context.Context, fn func(EntryInfo) error) error {
	shards, err := listShardDirs(c.fs, c.layout.entriesDir)
	if err != nil {
		return err
	}

	for _, shard := range shards {
		listing, err := listShard(c.fs, c.layout.shardDir(shard))
		if err != nil {
			return err
		}

		for _, stem := range listing.stems {
			if err := ctx.Err(); err != nil {
				return err
			}

			info := c.entryInfo(shard, stem, listing.files[stem])

			if err := fn(info); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Cache) entryInfo(shard, stem string, sf *stemFiles) EntryInfo {
	p := c.layout.entryFromStem(shard, stem)
	keyStr, name, _ := splitStem(stem)
	key, _ := ParseKey(keyStr)

	info := EntryInfo{
		Key:        key,
		Shard:      shard,
		Stem:       stem,
		Name:       name,
		Payload:    p.payload,
		Meta:       p.meta,
		HasPayload: sf.payload,
		HasMeta:    sf.meta,
		Marked:     sf.mark,
	}

	if sf.payload {
		if fi, err := c.fs.Stat(p.payload); err == nil {
			info.Size = fi.Size()
		}
	}

	if sf.meta {
		if fi, err := c.fs.Stat(p.meta); err == nil {
			info.LastAccess = fi.ModTime()
		}
	}

	return info
}

// Verify checks that e has decodable metadata and a payload. It returns an
// [*IntegrityError] for a broken entry and a plain error when the files
// could not be read. It does not know the sources e was built from, so it
// cannot detect a source mismatch.
func (c *Cache) Verify(ctx context.Context, e EntryInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := c.layout.entryFromStem(e.Shard, e.Stem)

	data, err := c.fs.ReadFile(p.meta)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return integrityErr(ReasonMissingMetadata, "%s", e.Stem)
		}

		return fmt.Errorf("reading metadata: %w", err)
	}

	if _, err := DecodeMetadata(data); err != nil {
		return err
	}

	if _, err := c.fs.Stat(p.payload); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return integrityErr(ReasonMissingPayload, "%s", e.Stem)
		}

		return fmt.Errorf("stat payload: %w", err)
	}

	return nil
}
