package artifactcache

import "errors"

// SkipReason says why a cleanup invocation did no work.
type SkipReason string

const (
	// SkipReasonNone means the pass ran.
	SkipReasonNone SkipReason = ""
	// SkipReasonCadence means the last pass finished less than
	// Options.CleanupInterval ago.
	SkipReasonCadence SkipReason = "cadence"
	// SkipReasonBusy means another pass, in this process or another, holds
	// the cleanup lock.
	SkipReasonBusy SkipReason = "busy"
	// SkipReasonCanceled means ctx was done before the pass started.
	SkipReasonCanceled SkipReason = "canceled"
)

// CleanupOutcome reports what one cleanup invocation did.
//
// Cleanup is best-effort: individual failures are collected in Errors and
// never abort the pass.
type CleanupOutcome struct {
	Ran        bool
	SkipReason SkipReason

	// Candidates is the number of queued entries inspected ahead of the scan.
	Candidates int
	// Scanned is the number of entries the cursor scan visited.
	Scanned int
	// Inspected is the number of entries that needed a slot lock.
	Inspected int

	Marked           int
	Unmarked         int
	Deleted          int
	TempFilesRemoved int

	// CursorWrapped is true when the scan ran past the last shard and
	// continued from the first.
	CursorWrapped bool

	Errors []error
}

// Err joins all collected errors, or returns nil.
func (o CleanupOutcome) Err() error {
	return errors.Join(o.Errors...)
}

// MigrationOutcome reports what legacy-format migration did when the cache
// was opened.
type MigrationOutcome struct {
	// Skipped is true when the purge marker already existed.
	Skipped bool

	RemovedDirs  int
	RemovedFiles int

	// MarkerWritten is true when the purge marker was created, so the next
	// open skips the scan.
	MarkerWritten bool

	Errors []error
}

// Err joins all collected errors, or returns nil.
func (o MigrationOutcome) Err() error {
	return errors.Join(o.Errors...)
}
