package artifactcache

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// On-disk names.
const (
	stemSeparator = "__"
	metaSuffix    = ".meta"
	markSuffix    = ".mark"

	entriesDirName   = "entries"
	locksDirName     = "locks"
	cleanupMarker    = ".last.cleanup.marker"
	scanCursorName   = ".cleanup.scan.cursor"
	cleanupLockName  = "cleanup.lock"
	purgeMarkerStem  = ".legacy-format-purged."
	tempInfix        = ".tmp-"
	nameFiller       = '_'
	namePlaceholder  = "x"
	shardWidth       = 2
	maxFileNameBytes = 255

	// tempSuffixReserve covers "." + ".tmp-" + pid + "-" + base36 uint64.
	tempSuffixReserve = 40
)

// layout resolves every path the cache touches below its root.
type layout struct {
	root       string
	version    int
	versionDir string
	entriesDir string
	locksDir   string
}

func newLayout(root string, version int) layout {
	versionDir := filepath.Join(root, versionDirName(version))

	return layout{
		root:       root,
		version:    version,
		versionDir: versionDir,
		entriesDir: filepath.Join(versionDir, entriesDirName),
		locksDir:   filepath.Join(versionDir, locksDirName),
	}
}

func versionDirName(version int) string {
	return "v" + strconv.Itoa(version)
}

func (l layout) cleanupMarkerPath() string {
	return filepath.Join(l.versionDir, cleanupMarker)
}

func (l layout) scanCursorPath() string {
	return filepath.Join(l.versionDir, scanCursorName)
}

func (l layout) purgeMarkerPath() string {
	return filepath.Join(l.root, purgeMarkerStem+strconv.Itoa(l.version))
}

func (l layout) cleanupLockPath() string {
	return filepath.Join(l.locksDir, cleanupLockName)
}

func (l layout) slotLockPath(slot int) string {
	return filepath.Join(l.locksDir, fmt.Sprintf("slot-%03d.lock", slot))
}

func (l layout) shardDir(shard string) string {
	return filepath.Join(l.entriesDir, shard)
}

// entryPaths are the three sibling files of one entry.
type entryPaths struct {
	shard   string
	stem    string
	dir     string
	payload string
	meta    string
	mark    string
}

// entry returns the paths for key and an unsanitized target name.
func (l layout) entry(key string, targetName string) entryPaths {
	return l.entryFromStem(shardOf(key), entryStem(key, targetName))
}

// entryFromStem returns the paths for a stem found inside shard. The shard
// is taken as found on disk, not re-derived from the key.
func (l layout) entryFromStem(shard, stem string) entryPaths {
	dir := l.shardDir(shard)
	payload := filepath.Join(dir, stem)

	return entryPaths{
		shard:   shard,
		stem:    stem,
		dir:     dir,
		payload: payload,
		meta:    payload + metaSuffix,
		mark:    payload + markSuffix,
	}
}

// shardOf returns the first two characters of key, right-padded with the
// filler character.
func shardOf(key string) string {
	if len(key) >= shardWidth {
		return key[:shardWidth]
	}

	return key + strings.Repeat(string(nameFiller), shardWidth-len(key))
}

// entryStem joins key and the sanitized target name so that the stem plus
// its longest sidecar suffix fits in one file name.
func entryStem(key string, targetName string) string {
	budget := maxFileNameBytes - len(metaSuffix) - len(key) - len(stemSeparator)

	return key + stemSeparator + sanitizeName(targetName, budget)
}

// splitStem recovers the key and sanitized name from a stem. Keys never
// contain the separator, so the first occurrence is the boundary.
func splitStem(stem string) (key string, name string, ok bool) {
	key, name, ok = strings.Cut(stem, stemSeparator)
	if !ok || key == "" || name == "" {
		return "", "", false
	}

	return key, name, true
}

func isNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '-':
		return true
	}

	return false
}

// sanitizeName maps name onto [A-Za-z0-9._-], collapses runs of anything
// else (including '_') into a single '_', trims the filler from both ends
// and caps the result at maxLen bytes. It never returns "".
func sanitizeName(name string, maxLen int) string {
	if maxLen < 1 {
		maxLen = 1
	}

	var sb strings.Builder

	sb.Grow(min(len(name), maxLen))

	pendingFiller := false

	for i := 0; i < len(name) && sb.Len() < maxLen; i++ {
		b := name[i]
		if !isNameByte(b) {
			pendingFiller = sb.Len() > 0

			continue
		}

		if pendingFiller {
			if sb.Len()+2 > maxLen {
				break
			}

			sb.WriteByte(nameFiller)

			pendingFiller = false
		}

		sb.WriteByte(b)
	}

	out := sb.String()
	if out == "" {
		return namePlaceholder
	}

	// A name ending in a sidecar suffix would read back as that sidecar of
	// a shorter stem.
	for _, suffix := range []string{metaSuffix, markSuffix} {
		if strings.HasSuffix(out, suffix) {
			cut := len(out) - len(suffix)
			out = out[:cut] + string(nameFiller) + out[cut+1:]
		}
	}

	return out
}

// tempPath returns a unique sibling of target for an in-progress write. The
// base name is truncated so the whole temp name stays within the file name
// limit.
func tempPath(target string) string {
	dir, base := filepath.Split(target)

	if limit := maxFileNameBytes - tempSuffixReserve; len(base) > limit {
		base = base[:limit]
	}

	name := "." + base + tempInfix + strconv.Itoa(os.Getpid()) + "-" +
		strconv.FormatUint(rand.Uint64(), 36)

	return filepath.Join(dir, name)
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempInfix)
}
