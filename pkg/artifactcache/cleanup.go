package artifactcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-kit/log/level"

	"github.com/calvinalkan/artifactcache/internal/fs"
)

func (c *Cache) cleanup(ctx context.Context, force bool) CleanupOutcome {
	out := c.runCleanup(ctx, force)
	c.metrics.observeCleanup(out)

	if out.Ran {
		level.Info(c.logger).Log("msg", "cleanup pass finished", "forced", force,
			"candidates", out.Candidates, "scanned", out.Scanned, "inspected", out.Inspected,
			"marked", out.Marked, "unmarked", out.Unmarked, "deleted", out.Deleted,
			"temp_removed", out.TempFilesRemoved, "wrapped", out.CursorWrapped, "err", out.Err())
	} else {
		level.Debug(c.logger).Log("msg", "cleanup skipped", "reason", out.SkipReason, "err", out.Err())
	}

	return out
}

func (c *Cache) runCleanup(ctx context.Context, force bool) CleanupOutcome {
	if ctx.Err() != nil {
		return CleanupOutcome{SkipReason: SkipReasonCanceled}
	}

	if !force && c.cadenceBlocks() {
		return CleanupOutcome{SkipReason: SkipReasonCadence}
	}

	if !c.cleanupRunning.CompareAndSwap(false, true) {
		return CleanupOutcome{SkipReason: SkipReasonBusy}
	}

	defer c.cleanupRunning.Store(false)

	lock, err := c.locker.TryLock(c.layout.cleanupLockPath())
	if err != nil {
		out := CleanupOutcome{SkipReason: SkipReasonBusy}
		if !errors.Is(err, fs.ErrWouldBlock) {
			out.Errors = append(out.Errors, fmt.Errorf("cleanup lock: %w", err))
		}

		return out
	}

	defer func() { _ = lock.Close() }()

	// Another process may have finished a pass while we waited for the lock.
	if !force && c.cadenceBlocks() {
		return CleanupOutcome{SkipReason: SkipReasonCadence}
	}

	now := c.opts.Now()
	pass := &cleanupPass{
		c:         c,
		ctx:       ctx,
		now:       now,
		threshold: now.Add(-c.opts.StaleAfter),
		visited:   make(map[entryRef]struct{}),
		out:       CleanupOutcome{Ran: true},
	}

	pass.inspectCandidates()
	pass.scan()

	if ctx.Err() == nil {
		if err := c.writeCleanupMarker(now); err != nil {
			pass.fail(err)
		}
	}

	return pass.out
}

// cadenceBlocks reports whether the last pass finished less than
// CleanupInterval ago.
func (c *Cache) cadenceBlocks() bool {
	info, err := c.fs.Stat(c.layout.cleanupMarkerPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			level.Debug(c.logger).Log("msg", "reading cleanup marker failed", "err", err)
		}

		return false
	}

	return c.opts.Now().Sub(info.ModTime()) < c.opts.CleanupInterval
}

func (c *Cache) writeCleanupMarker(now time.Time) error {
	path := c.layout.cleanupMarkerPath()

	if err := c.fs.WriteFileAtomic(path, nil, 0o644); err != nil {
		return fmt.Errorf("writing cleanup marker: %w", err)
	}

	if err := c.fs.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("stamping cleanup marker: %w", err)
	}

	return nil
}

// cleanupPass is the state of one cleanup invocation.
type cleanupPass struct {
	c         *Cache
	ctx       context.Context
	now       time.Time
	threshold time.Time

	// visited holds entries already handled this pass, so a candidate is
	// not inspected again when the scan reaches it.
	visited map[entryRef]struct{}

	cursor  scanCursor
	scanned int
	out     CleanupOutcome
}

func (p *cleanupPass) fail(err error) {
	p.out.Errors = append(p.out.Errors, err)
}

func (p *cleanupPass) inspectCandidates() {
	for _, ref := range p.c.candidates.drain() {
		if p.ctx.Err() != nil {
			return
		}

		if _, ok := p.visited[ref]; ok {
			continue
		}

		p.visited[ref] = struct{}{}
		p.out.Candidates++
		p.visit(ref, nil)
	}
}

// scan visits entries in (shard, stem) order starting after the persisted
// cursor, wrapping around once, until MaxScanEntries entries were visited.
func (p *cleanupPass) scan() {
	c := p.c

	start, err := readScanCursor(c.fs, c.layout.scanCursorPath())
	if err != nil {
		p.fail(err)
	}

	shards, err := listShardDirs(c.fs, c.layout.entriesDir)
	if err != nil {
		p.fail(err)

		return
	}

	p.cursor = start
	first := sort.SearchStrings(shards, start.shard)

	completed := p.scanRange(shards[first:], func(shard, stem string) bool {
		return shard != start.shard || stem > start.stem
	})

	if completed {
		p.out.CursorWrapped = true

		if !start.isZero() {
			wrapEnd := first
			if first < len(shards) && shards[first] == start.shard {
				wrapEnd++
			}

			completed = p.scanRange(shards[:wrapEnd], func(shard, stem string) bool {
				return shard != start.shard || stem <= start.stem
			})
		}
	}

	if p.ctx.Err() != nil {
		p.fail(p.ctx.Err())
	}

	// A full cycle within budget starts the next pass from the top.
	if completed {
		p.cursor = scanCursor{}
	}

	if err := writeScanCursor(c.fs, c.layout.scanCursorPath(), p.cursor); err != nil {
		p.fail(err)
	}
}

// scanRange visits the included stems of shards. It returns false when the
// budget ran out or ctx was done before the range was exhausted.
func (p *cleanupPass) scanRange(shards []string, include func(shard, stem string) bool) bool {
	c := p.c

	for _, shard := range shards {
		listing, err := listShard(c.fs, c.layout.shardDir(shard))
		if err != nil {
			p.fail(err)

			continue
		}

		p.reapTemps(shard, listing.temps)

		for _, stem := range listing.stems {
			if !include(shard, stem) {
				continue
			}

			if p.ctx.Err() != nil || p.scanned >= c.opts.MaxScanEntries {
				return false
			}

			ref := entryRef{shard: shard, stem: stem}
			p.cursor = scanCursor{shard: shard, stem: stem}

			if _, ok := p.visited[ref]; ok {
				continue
			}

			p.visited[ref] = struct{}{}
			p.scanned++
			p.out.Scanned++
			p.visit(ref, listing.files[stem])
		}
	}

	return true
}

// visit runs the lock-free pre-filter and, if the entry needs it, the
// locked inspection. files is the directory listing's view of the entry,
// or nil for a queued candidate.
func (p *cleanupPass) visit(ref entryRef, files *stemFiles) {
	paths := p.c.layout.entryFromStem(ref.shard, ref.stem)

	need, err := p.needsInspection(paths, files)
	if err != nil {
		p.fail(err)

		return
	}

	if !need {
		return
	}

	p.out.Inspected++
	p.inspect(paths)
}

// needsInspection is true for an entry without metadata, with a mark, or
// whose metadata is already stale. Fresh unmarked entries never take a lock.
func (p *cleanupPass) needsInspection(paths entryPaths, files *stemFiles) (bool, error) {
	fsys := p.c.fs

	metaInfo, err := fsys.Stat(paths.meta)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", filepath.Base(paths.meta), err)
		}

		if files != nil {
			return files.payload || files.mark, nil
		}

		return anyExists(fsys, paths.payload, paths.mark)
	}

	marked := false
	if files != nil {
		marked = files.mark
	} else if marked, err = fsys.Exists(paths.mark); err != nil {
		return false, err
	}

	return marked || metaInfo.ModTime().Before(p.threshold), nil
}

func anyExists(fsys fs.FS, paths ...string) (bool, error) {
	for _, path := range paths {
		ok, err := fsys.Exists(path)
		if err != nil || ok {
			return ok, err
		}
	}

	return false, nil
}

// inspect applies the retention rules under the entry's slot lock:
//
//   - no metadata: delete the entry
//   - fresh metadata: clear any mark
//   - stale, unmarked: mark
//   - stale, marked at least CleanupInterval ago: delete
func (p *cleanupPass) inspect(paths entryPaths) {
	c := p.c

	keyStr, _, ok := splitStem(paths.stem)
	if !ok {
		return
	}

	key, err := ParseKey(keyStr)
	if err != nil {
		return
	}

	release, err := c.locks.acquire(p.ctx, key.Lo)
	if err != nil {
		p.fail(err)

		return
	}

	defer release()

	metaInfo, err := c.fs.Stat(paths.meta)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.deleteEntry(paths)
		} else {
			p.fail(fmt.Errorf("stat %s: %w", filepath.Base(paths.meta), err))
		}

		return
	}

	if !metaInfo.ModTime().Before(p.threshold) {
		err := c.fs.Remove(paths.mark)

		switch {
		case err == nil:
			p.out.Unmarked++
		case !errors.Is(err, os.ErrNotExist):
			p.fail(fmt.Errorf("clearing mark: %w", err))
		}

		return
	}

	markInfo, err := c.fs.Stat(paths.mark)

	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := p.createMark(paths.mark); err != nil {
			p.fail(err)

			return
		}

		p.out.Marked++
	case err != nil:
		p.fail(fmt.Errorf("stat mark: %w", err))
	case p.now.Sub(markInfo.ModTime()) >= c.opts.CleanupInterval:
		p.deleteEntry(paths)
	}
}

func (p *cleanupPass) createMark(path string) error {
	f, err := p.c.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating mark: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("creating mark: %w", err)
	}

	if err := p.c.fs.Chtimes(path, p.now, p.now); err != nil {
		return fmt.Errorf("stamping mark: %w", err)
	}

	return nil
}

// deleteEntry removes all entry files and the shard directory if it became
// empty. The caller holds the slot lock.
func (p *cleanupPass) deleteEntry(paths entryPaths) {
	removed, err := p.c.removeEntryFiles(paths)
	if err != nil {
		p.fail(err)
	}

	if removed > 0 {
		p.out.Deleted++
	}

	// Fails with ENOTEMPTY while other entries remain.
	_ = p.c.fs.Remove(paths.dir)
}

// reapTemps removes temp files older than StaleAfter: residue of producers
// or writers that crashed before renaming.
func (p *cleanupPass) reapTemps(shard string, temps []string) {
	fsys := p.c.fs
	dir := p.c.layout.shardDir(shard)

	for _, name := range temps {
		path := filepath.Join(dir, name)

		info, err := fsys.Stat(path)
		if err != nil {
			continue
		}

		if !info.ModTime().Before(p.threshold) {
			continue
		}

		if err := fsys.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				p.fail(fmt.Errorf("removing temp file: %w", err))
			}

			continue
		}

		p.out.TempFilesRemoved++
	}
}
