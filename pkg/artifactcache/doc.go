// Package artifactcache is a persistent, content-addressed disk cache for
// build artifacts, shared by concurrent goroutines and processes on one
// machine.
//
// A lookup is keyed by a 128-bit fingerprint of the input sources, the
// target file name, the cache version and the producer's configuration:
//
//	c, err := artifactcache.New(artifactcache.Options{Dir: cacheDir})
//	if err != nil {
//	    return err
//	}
//
//	path, err := c.ComputeIfAbsent(ctx, sources, "out/app.jar", producer)
//
// On a miss the [Producer] writes into a temp file which is renamed into the
// cache together with a binary metadata sidecar. On a hit the cached payload
// is hard-linked (or copied) to the requested target.
//
// # Layout
//
//	<dir>/v<version>/entries/<shard>/<key>__<name>        payload
//	<dir>/v<version>/entries/<shard>/<key>__<name>.meta   metadata, mtime = last access
//	<dir>/v<version>/entries/<shard>/<key>__<name>.mark   cleanup mark
//	<dir>/v<version>/locks/slot-NNN.lock                  striped key locks
//	<dir>/v<version>/.last.cleanup.marker
//	<dir>/v<version>/.cleanup.scan.cursor
//	<dir>/.legacy-format-purged.<version>
//
// # Locking
//
// Lookups first try to serve a hit without locking. Only on a miss does the
// caller take the key's slot lock (an in-process semaphore plus an flock on
// the slot file), re-check, and produce. At most one producer runs per key.
//
// # Cleanup
//
// [Cache.Cleanup] evicts entries in two strikes: an entry unused for
// StaleAfter is marked, and deleted on a later pass at least
// CleanupInterval after the mark if it was not used in between. A pass
// visits at most MaxScanEntries entries, resuming from a persisted cursor,
// plus any queued candidates.
package artifactcache
