package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	lock1, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = lock1.Close() })

	lock2, err := locker.TryLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryLock(%q) while locked: err=%v, want %v", path, err, ErrWouldBlock)
	}
	if lock2 != nil {
		_ = lock2.Close()
		t.Fatalf("TryLock(%q) while locked: want lock=nil, got non-nil", path)
	}

	if err := lock1.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	lock3, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q) after release: %v", path, err)
	}
	if err := lock3.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func Test_Locker_LockContext_Returns_Context_Error_When_Cancelled_While_Waiting(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	held, err := locker.LockContext(context.Background(), path)
	if err != nil {
		t.Fatalf("LockContext(%q): %v", path, err)
	}
	defer held.Close()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = locker.LockContext(ctx, path)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("LockContext: err=%v, want %v", err, context.Canceled)
	}
}

func Test_Locker_LockContext_Acquires_When_Holder_Releases(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	held, err := locker.LockContext(context.Background(), path)
	if err != nil {
		t.Fatalf("LockContext(%q): %v", path, err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lock, err := locker.LockContext(ctx, path)
	if err != nil {
		t.Fatalf("LockContext: %v", err)
	}
	if err := lock.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func Test_Locker_LockContext_Creates_Parent_Directories_When_Missing(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "a", "b", "slot-001.lock")

	lock, err := locker.LockContext(context.Background(), path)
	if err != nil {
		t.Fatalf("LockContext(%q): %v", path, err)
	}
	defer lock.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
}

func Test_Lock_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	lock, err := locker.LockContext(context.Background(), path)
	if err != nil {
		t.Fatalf("LockContext(%q): %v", path, err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("first Close(): %v", err)
	}
	if err := lock.Close(); err != nil {
		t.Fatalf("second Close(): %v", err)
	}
}

func Test_Locker_LockContext_Serializes_Concurrent_Holders(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	const workers = 8

	var (
		inside    atomic.Int32
		maxInside atomic.Int32
		wg        sync.WaitGroup
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			lock, err := locker.LockContext(context.Background(), path)
			if err != nil {
				t.Errorf("LockContext: %v", err)

				return
			}

			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}

			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)

			_ = lock.Close()
		}()
	}

	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", got)
	}
}
