package artifactcache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testSource struct {
	size int32
	hash int64
}

func (s testSource) Size() int32 { return s.size }
func (s testSource) Hash() int64 { return s.hash }

func makeSources(hashes ...int64) []Source {
	out := make([]Source, len(hashes))
	for i, h := range hashes {
		out[i] = testSource{size: int32(100 + i), hash: h}
	}

	return out
}

// testProducer writes content to the temp file and records every call.
type testProducer struct {
	content  string
	natives  [][]string
	useCache bool
	salt     string
	delay    time.Duration
	err      error

	calls atomic.Int32

	mu       sync.Mutex
	consumed []SourceInfo
}

func (p *testProducer) UpdateDigest(d *Digest) { d.WriteString(p.salt) }

func (p *testProducer) Produce(ctx context.Context, tempFile string) ([][]string, error) {
	p.calls.Add(1)

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.err != nil {
		return nil, p.err
	}

	if err := os.WriteFile(tempFile, []byte(p.content), 0o644); err != nil {
		return nil, err
	}

	return p.natives, nil
}

func (p *testProducer) ConsumeInfo(_ Source, info SourceInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consumed = append(p.consumed, info)
}

func (p *testProducer) UseCacheAsTargetFile() bool { return p.useCache }

func (p *testProducer) consumedInfos() []SourceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]SourceInfo(nil), p.consumed...)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()

	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}

	c, err := New(opts)
	require.NoError(t, err)

	return c
}

// entryFor returns the on-disk paths ComputeIfAbsent uses for the request.
func entryFor(c *Cache, srcs []Source, targetFile string, p Producer) entryPaths {
	name := filepath.Base(targetFile)
	key := deriveKey(srcs, name, c.opts.Version, p)

	return c.layout.entry(key.String(), name)
}

// seedEntry writes a valid entry directly to disk, bypassing the producer.
func seedEntry(t *testing.T, c *Cache, key Key, name string) entryPaths {
	t.Helper()

	paths := c.layout.entry(key.String(), name)
	require.NoError(t, os.MkdirAll(paths.dir, 0o755))

	meta, err := EncodeMetadata([]SourceInfo{{Size: 1, Hash: int64(key.Lo)}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths.payload, []byte(name), 0o644))
	require.NoError(t, os.WriteFile(paths.meta, meta, 0o644))

	return paths
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}

	require.NoError(t, err)

	return true
}

func readString(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}
