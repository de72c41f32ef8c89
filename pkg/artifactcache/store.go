package artifactcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log/level"
)

// Producer builds an artifact on a cache miss and is notified on hits.
type Producer interface {
	// UpdateDigest adds producer configuration that affects the artifact
	// to the cache key.
	UpdateDigest(d *Digest)

	// Produce writes the artifact to tempFile. It returns, per source in the
	// order given to ComputeIfAbsent, the native file names discovered while
	// producing. The slice may be nil or shorter than the source list.
	Produce(ctx context.Context, tempFile string) ([][]string, error)

	// ConsumeInfo is called on every cache hit, once per current source,
	// with what was recorded when the entry was produced.
	ConsumeInfo(source Source, info SourceInfo)

	// UseCacheAsTargetFile makes ComputeIfAbsent return the cache's own
	// payload path instead of materializing into targetFile.
	UseCacheAsTargetFile() bool
}

// createTempAttempts bounds retries when cleanup removes an empty shard
// directory between MkdirAll and the temp file's creation.
const createTempAttempts = 3

// ComputeIfAbsent returns the artifact for sources and the base name of
// targetFile, running p.Produce only when no valid entry exists.
//
// On a hit the cached payload is hard-linked (or copied) to targetFile and
// targetFile is returned. When p.UseCacheAsTargetFile is true the payload
// path inside the cache is returned instead and targetFile is only used
// for its name.
//
// At most one producer runs per key, across goroutines and processes.
// Corrupt entries are rebuilt transparently.
func (c *Cache) ComputeIfAbsent(ctx context.Context, sources []Source, targetFile string, p Producer) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil producer", ErrInvalidInput)
	}

	name := filepath.Base(targetFile)
	if targetFile == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: target file %q has no name", ErrInvalidInput, targetFile)
	}

	key := deriveKey(sources, name, c.opts.Version, p)
	paths := c.layout.entry(key.String(), name)
	useCache := p.UseCacheAsTargetFile()

	if !useCache && c.tryOptimistic(paths, sources, targetFile, p) {
		c.metrics.Hits.WithLabelValues(hitPathOptimistic).Inc()

		return targetFile, nil
	}

	release, err := c.locks.acquire(ctx, key.Lo)
	if err != nil {
		return "", err
	}

	defer release()

	hit, err := c.tryAuthoritative(paths, sources, targetFile, p)
	if err != nil {
		return "", err
	}

	if hit {
		c.metrics.Hits.WithLabelValues(hitPathAuthoritative).Inc()

		return resultPath(paths, targetFile, useCache), nil
	}

	c.metrics.Misses.Inc()

	if err := c.produce(ctx, paths, sources, p); err != nil {
		c.metrics.Productions.WithLabelValues(resultError).Inc()

		return "", err
	}

	c.metrics.Productions.WithLabelValues(resultSuccess).Inc()

	if !useCache {
		if err := materialize(c.fs, paths.payload, targetFile); err != nil {
			return "", fmt.Errorf("materializing %s: %w", name, err)
		}
	}

	return resultPath(paths, targetFile, useCache), nil
}

func resultPath(paths entryPaths, targetFile string, useCache bool) string {
	if useCache {
		return paths.payload
	}

	return targetFile
}

// tryOptimistic serves a hit without taking the slot lock. It never deletes
// anything: a suspicious entry is queued for cleanup and the caller falls
// through to the locked path.
func (c *Cache) tryOptimistic(paths entryPaths, sources []Source, targetFile string, p Producer) bool {
	metaInfo, err := c.fs.Stat(paths.meta)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			level.Debug(c.logger).Log("msg", "optimistic stat failed", "entry", paths.stem, "err", err)
		}

		return false
	}

	data, err := c.fs.ReadFile(paths.meta)
	if err != nil {
		level.Debug(c.logger).Log("msg", "optimistic read failed", "entry", paths.stem, "err", err)

		return false
	}

	recorded, err := DecodeMetadata(data)
	if err == nil {
		err = matchSources(recorded, sources)
	}

	if err != nil {
		level.Debug(c.logger).Log("msg", "optimistic hit rejected", "entry", paths.stem, "err", err)
		c.candidates.add(entryRef{shard: paths.shard, stem: paths.stem})

		return false
	}

	if err := materialize(c.fs, paths.payload, targetFile); err != nil {
		level.Debug(c.logger).Log("msg", "optimistic materialize failed", "entry", paths.stem, "err", err)

		return false
	}

	consume(sources, recorded, p)
	c.touch(paths, metaInfo.ModTime())

	return true
}

// tryAuthoritative resolves a lookup with the slot lock held. Invalid
// entries are deleted and reported as a miss; I/O errors are returned.
func (c *Cache) tryAuthoritative(paths entryPaths, sources []Source, targetFile string, p Producer) (bool, error) {
	metaInfo, err := c.fs.Stat(paths.meta)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// A payload without metadata is residue of an interrupted write.
			c.removeEntryFiles(paths)

			return false, nil
		}

		return false, fmt.Errorf("stat metadata: %w", err)
	}

	data, err := c.fs.ReadFile(paths.meta)
	if err != nil {
		return false, fmt.Errorf("reading metadata: %w", err)
	}

	recorded, err := DecodeMetadata(data)
	if err == nil {
		err = matchSources(recorded, sources)
	}

	if err == nil {
		_, statErr := c.fs.Stat(paths.payload)

		switch {
		case errors.Is(statErr, os.ErrNotExist):
			err = integrityErr(ReasonMissingPayload, "%s", filepath.Base(paths.payload))
		case statErr != nil:
			return false, fmt.Errorf("stat payload: %w", statErr)
		}
	}

	if err != nil {
		c.invalidate(paths, err)

		return false, nil
	}

	if !p.UseCacheAsTargetFile() {
		if err := materialize(c.fs, paths.payload, targetFile); err != nil {
			return false, fmt.Errorf("materializing %s: %w", filepath.Base(targetFile), err)
		}
	}

	consume(sources, recorded, p)
	c.touch(paths, metaInfo.ModTime())

	return true, nil
}

func consume(sources []Source, recorded []SourceInfo, p Producer) {
	for i, src := range sources {
		p.ConsumeInfo(src, recorded[i])
	}
}

// touch bumps the metadata mtime, the entry's last-access time, unless it
// was bumped less than MinTouchInterval ago.
func (c *Cache) touch(paths entryPaths, lastAccess time.Time) {
	now := c.opts.Now()
	if now.Sub(lastAccess) <= c.opts.MinTouchInterval {
		return
	}

	if err := c.fs.Chtimes(paths.meta, now, now); err != nil {
		level.Debug(c.logger).Log("msg", "touch failed", "entry", paths.stem, "err", err)

		return
	}

	// A touched entry may still carry a mark from an earlier pass.
	c.candidates.add(entryRef{shard: paths.shard, stem: paths.stem})
}

// invalidate deletes an entry whose metadata was rejected.
func (c *Cache) invalidate(paths entryPaths, cause error) {
	reason := integrityReason(cause)
	c.metrics.IntegrityViolations.WithLabelValues(string(reason)).Inc()

	level.Warn(c.logger).Log("msg", "deleting invalid cache entry", "entry", paths.stem, "reason", reason, "err", cause)

	c.removeEntryFiles(paths)
}

// removeEntryFiles deletes payload, metadata and mark, best-effort. It
// reports how many files existed and were removed.
func (c *Cache) removeEntryFiles(paths entryPaths) (int, error) {
	var (
		removed int
		errs    []error
	)

	// Metadata first: an entry without metadata is never served.
	for _, path := range []string{paths.meta, paths.payload, paths.mark} {
		err := c.fs.Remove(path)

		switch {
		case err == nil:
			removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			level.Debug(c.logger).Log("msg", "removing entry file failed", "path", path, "err", err)
			errs = append(errs, err)
		}
	}

	return removed, errors.Join(errs...)
}

// produce runs the producer and commits payload and metadata. The caller
// holds the slot lock.
func (c *Cache) produce(ctx context.Context, paths entryPaths, sources []Source, p Producer) error {
	tmp, err := c.createTemp(paths)
	if err != nil {
		return err
	}

	committed := false

	defer func() {
		if !committed {
			_ = c.fs.Remove(tmp)
		}
	}()

	natives, err := p.Produce(ctx, tmp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProducer, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("producing %s: %w", paths.stem, err)
	}

	infos := make([]SourceInfo, len(sources))
	for i, src := range sources {
		infos[i] = SourceInfo{Size: src.Size(), Hash: src.Hash()}
		if i < len(natives) {
			infos[i].NativeFiles = natives[i]
		}
	}

	meta, err := EncodeMetadata(infos)
	if err != nil {
		return err
	}

	if err := c.fs.Rename(tmp, paths.payload); err != nil {
		// Replace non-atomically when the filesystem refuses to rename over
		// an existing file.
		_ = c.fs.Remove(paths.payload)

		if err := c.fs.Rename(tmp, paths.payload); err != nil {
			return fmt.Errorf("committing payload: %w", err)
		}
	}

	committed = true

	if err := writeFileAt(c.fs, paths.meta, meta); err != nil {
		_ = c.fs.Remove(paths.payload)

		return fmt.Errorf("committing metadata: %w", err)
	}

	if err := c.fs.Remove(paths.mark); err != nil && !errors.Is(err, os.ErrNotExist) {
		level.Debug(c.logger).Log("msg", "removing stale mark failed", "entry", paths.stem, "err", err)
	}

	return nil
}

// createTemp creates an empty, uniquely named temp file in the entry's
// shard directory and returns its path.
func (c *Cache) createTemp(paths entryPaths) (string, error) {
	var lastErr error

	for range createTempAttempts {
		if err := c.fs.MkdirAll(paths.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating shard dir: %w", err)
		}

		tmp := tempPath(paths.payload)

		f, err := c.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				_ = c.fs.Remove(tmp)

				return "", fmt.Errorf("closing temp file: %w", err)
			}

			return tmp, nil
		}

		lastErr = err

		if !errors.Is(err, os.ErrNotExist) {
			break
		}
	}

	return "", fmt.Errorf("creating temp file: %w", lastErr)
}
