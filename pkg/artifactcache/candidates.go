package artifactcache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entryRef names an entry by where it was found on disk.
type entryRef struct {
	shard string
	stem  string
}

// candidateIndex is a bounded FIFO of entries to inspect on the next
// cleanup pass regardless of the scan cursor. Adding an entry that is
// already queued is a no-op and does not move it; when full, the oldest
// entry is dropped.
type candidateIndex struct {
	queue *lru.Cache[entryRef, struct{}]
}

func newCandidateIndex(maxLen int) (*candidateIndex, error) {
	queue, err := lru.New[entryRef, struct{}](maxLen)
	if err != nil {
		return nil, fmt.Errorf("create candidate index: %w", err)
	}

	return &candidateIndex{queue: queue}, nil
}

func (ci *candidateIndex) add(ref entryRef) {
	// ContainsOrAdd leaves recency untouched for known refs, which keeps
	// eviction in insertion order.
	ci.queue.ContainsOrAdd(ref, struct{}{})
}

// drain removes and returns everything queued, oldest first. Refs added
// while draining stay queued for the next pass.
func (ci *candidateIndex) drain() []entryRef {
	refs := ci.queue.Keys()

	for _, ref := range refs {
		ci.queue.Remove(ref)
	}

	return refs
}

func (ci *candidateIndex) len() int {
	return ci.queue.Len()
}
