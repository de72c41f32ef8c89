package artifactcache

import (
	"context"
	"fmt"

	"github.com/calvinalkan/artifactcache/internal/fs"
)

// stripedLocks serializes work per key across goroutines and processes.
//
// Each slot has two layers: a 1-buffered channel that orders goroutines of
// this process, and an flock on locks/slot-NNN.lock that orders processes.
// Unrelated keys that land on the same slot contend.
type stripedLocks struct {
	slots  []chan struct{}
	locker *fs.Locker
	layout layout
}

func newStripedLocks(n int, locker *fs.Locker, l layout) *stripedLocks {
	slots := make([]chan struct{}, n)
	for i := range slots {
		slots[i] = make(chan struct{}, 1)
	}

	return &stripedLocks{slots: slots, locker: locker, layout: l}
}

// slotFor maps the low half of a key to a slot index.
func (s *stripedLocks) slotFor(lo uint64) int {
	// fmix64 finalizer; spreads keys whose low bits are correlated.
	h := lo
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33

	return int(h % uint64(len(s.slots)))
}

// acquire blocks until the slot for lo is held by the caller or ctx is done.
// The returned release func must be called exactly once.
func (s *stripedLocks) acquire(ctx context.Context, lo uint64) (func(), error) {
	slot := s.slotFor(lo)
	sem := s.slots[slot]

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lock slot %d: %w", slot, ctx.Err())
	}

	lock, err := s.locker.LockContext(ctx, s.layout.slotLockPath(slot))
	if err != nil {
		<-sem

		return nil, fmt.Errorf("lock slot %d: %w", slot, err)
	}

	return func() {
		_ = lock.Close()

		<-sem
	}, nil
}
