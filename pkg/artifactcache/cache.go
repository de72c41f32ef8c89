package artifactcache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/calvinalkan/artifactcache/internal/fs"
)

// Defaults applied to zero-valued [Options] fields.
const (
	DefaultVersion          = 1
	DefaultCleanupInterval  = 24 * time.Hour
	DefaultStaleAfter       = 7 * 24 * time.Hour
	DefaultMinTouchInterval = time.Hour
	DefaultMaxScanEntries   = 10_000
	DefaultMaxCandidates    = 4096
	DefaultLockSlots        = 256
)

// Options configures a [Cache]. Only Dir is required.
type Options struct {
	// Dir is the cache root. Entries live under Dir/v<Version>.
	Dir string

	// Version is the cache format version. Bumping it starts a fresh
	// versioned directory; the old one is removed by legacy migration.
	Version int

	// CleanupInterval is the minimum time between two cleanup passes.
	CleanupInterval time.Duration

	// StaleAfter is how long an entry may go unused before cleanup marks it.
	StaleAfter time.Duration

	// MinTouchInterval throttles last-access updates on cache hits.
	MinTouchInterval time.Duration

	// MaxScanEntries bounds the entries one cleanup pass visits by cursor.
	MaxScanEntries int

	// MaxCandidates bounds the in-memory candidate index.
	MaxCandidates int

	// LockSlots is the size of the striped lock table.
	LockSlots int

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger log.Logger

	// Registerer receives the cache's collectors. Nil disables registration.
	Registerer prometheus.Registerer

	// FS defaults to the real filesystem.
	FS fs.FS

	// Now defaults to [time.Now].
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Version == 0 {
		o.Version = DefaultVersion
	}

	if o.CleanupInterval == 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}

	if o.StaleAfter == 0 {
		o.StaleAfter = DefaultStaleAfter
	}

	if o.MinTouchInterval == 0 {
		o.MinTouchInterval = DefaultMinTouchInterval
	}

	if o.MaxScanEntries == 0 {
		o.MaxScanEntries = DefaultMaxScanEntries
	}

	if o.MaxCandidates == 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}

	if o.LockSlots == 0 {
		o.LockSlots = DefaultLockSlots
	}

	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}

func (o Options) validate() error {
	switch {
	case o.Dir == "":
		return fmt.Errorf("%w: Dir is required", ErrInvalidInput)
	case o.Version < 0:
		return fmt.Errorf("%w: Version must be >= 0", ErrInvalidInput)
	case o.CleanupInterval < 0, o.StaleAfter < 0, o.MinTouchInterval < 0:
		return fmt.Errorf("%w: durations must be >= 0", ErrInvalidInput)
	case o.MaxScanEntries < 0, o.MaxCandidates < 0, o.LockSlots < 0:
		return fmt.Errorf("%w: limits must be >= 0", ErrInvalidInput)
	}

	return nil
}

// Cache is a content-addressed artifact cache rooted in one directory.
//
// A Cache is safe for concurrent use, and several processes may open the
// same directory at once.
type Cache struct {
	opts       Options
	fs         fs.FS
	layout     layout
	locker     *fs.Locker
	locks      *stripedLocks
	candidates *candidateIndex
	logger     log.Logger
	metrics    *Metrics

	cleanupRunning atomic.Bool
	legacy         MigrationOutcome
}

// New opens the cache at opts.Dir, creating it if needed.
//
// Legacy-format migration runs synchronously before New returns. Its
// failures never fail New; see [Cache.LegacyOutcome].
func New(opts Options) (*Cache, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache dir: %w", err)
	}

	opts.Dir = dir

	l := newLayout(dir, opts.Version)
	locker := fs.NewLocker(opts.FS)

	candidates, err := newCandidateIndex(opts.MaxCandidates)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		opts:       opts,
		fs:         opts.FS,
		layout:     l,
		locker:     locker,
		locks:      newStripedLocks(opts.LockSlots, locker, l),
		candidates: candidates,
		logger:     opts.Logger,
		metrics:    NewMetrics(opts.Registerer),
	}

	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		level.Debug(c.logger).Log("msg", "creating cache root failed", "dir", dir, "err", err)
	}

	c.legacy = migrateLegacy(c.fs, l)
	c.logMigration()

	if err := c.fs.MkdirAll(l.entriesDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	return c, nil
}

// Dir returns the absolute cache root.
func (c *Cache) Dir() string {
	return c.opts.Dir
}

// Options returns the effective options, defaults applied.
func (c *Cache) Options() Options {
	return c.opts
}

// Metrics returns the cache's collectors.
func (c *Cache) Metrics() *Metrics {
	return c.metrics
}

// LegacyOutcome reports what legacy migration did when the cache was opened.
func (c *Cache) LegacyOutcome() MigrationOutcome {
	return c.legacy
}

// QueueCandidate asks the next cleanup pass to inspect the entry for key and
// targetName, regardless of where the scan cursor is.
func (c *Cache) QueueCandidate(key Key, targetName string) {
	p := c.layout.entry(key.String(), filepath.Base(targetName))
	c.candidates.add(entryRef{shard: p.shard, stem: p.stem})
}

// Cleanup runs one cadence-gated maintenance pass. It returns immediately
// when a pass finished less than Options.CleanupInterval ago or another
// pass is in progress.
func (c *Cache) Cleanup(ctx context.Context) CleanupOutcome {
	return c.cleanup(ctx, false)
}

// ForceCleanup is [Cache.Cleanup] without the cadence gate. It is still
// serialized with other passes, and it never shortens the mark age: a
// marked entry is deleted only once its mark is Options.CleanupInterval old.
func (c *Cache) ForceCleanup(ctx context.Context) CleanupOutcome {
	return c.cleanup(ctx, true)
}

// RunCleanupLoop calls [Cache.Cleanup] once immediately and then on every
// tick until ctx is done. A non-positive every uses
// Options.CleanupInterval.
func (c *Cache) RunCleanupLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = c.opts.CleanupInterval
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		c.Cleanup(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Cache) logMigration() {
	out := c.legacy

	switch {
	case out.Skipped:
		return
	case len(out.Errors) > 0:
		level.Warn(c.logger).Log("msg", "legacy migration incomplete", "removed_dirs", out.RemovedDirs,
			"removed_files", out.RemovedFiles, "err", out.Err())
	case out.RemovedDirs > 0 || out.RemovedFiles > 0:
		level.Info(c.logger).Log("msg", "removed legacy cache data", "removed_dirs", out.RemovedDirs,
			"removed_files", out.RemovedFiles)
	}
}
