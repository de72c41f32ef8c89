package artifactcache

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func Test_ComputeIfAbsent_Produces_Once_When_Separate_Caches_Share_A_Dir(t *testing.T) {
	t.Parallel()

	const instances = 8

	dir := t.TempDir()
	out := t.TempDir()
	srcs := makeSources(41, 42)

	// One producer, many caches: each Cache has its own slot semaphores, so
	// only the slot flock can keep the producer from running twice.
	p := &testProducer{content: "shared", delay: 50 * time.Millisecond}

	caches := make([]*Cache, instances)
	for i := range caches {
		caches[i] = newTestCache(t, Options{Dir: dir})
	}

	var g errgroup.Group

	for i, c := range caches {
		g.Go(func() error {
			target := filepath.Join(out, "c"+string(rune('a'+i)), "app.jar")

			path, err := c.ComputeIfAbsent(context.Background(), srcs, target, p)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			assert.Equal(t, "shared", string(data), "instance %d", i)

			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), p.calls.Load(), "producer calls across %d cache instances", instances)
}

const (
	crossProcDirEnv = "ARTIFACTCACHE_CROSSPROC_DIR"
	crossProcLogEnv = "ARTIFACTCACHE_CROSSPROC_LOG"
)

// loggingProducer appends a line to a shared file for every Produce call,
// so calls can be counted across processes.
type loggingProducer struct {
	log string
}

func (loggingProducer) UpdateDigest(d *Digest) { d.WriteString("crossproc") }

func (p loggingProducer) Produce(_ context.Context, tempFile string) ([][]string, error) {
	f, err := os.OpenFile(p.log, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	_, err = f.WriteString("produce\n")
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return nil, err
	}

	time.Sleep(200 * time.Millisecond)

	return nil, os.WriteFile(tempFile, []byte("from-child"), 0o644)
}

func (loggingProducer) ConsumeInfo(Source, SourceInfo) {}

func (loggingProducer) UseCacheAsTargetFile() bool { return false }

func Test_ComputeIfAbsent_Produces_Once_When_Processes_Race_On_One_Key(t *testing.T) {
	if dir := os.Getenv(crossProcDirEnv); dir != "" {
		runCrossProcessChild(t, dir, os.Getenv(crossProcLogEnv))

		return
	}

	t.Parallel()

	const children = 4

	dir := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "produce.log")

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	var g errgroup.Group

	for range children {
		g.Go(func() error {
			cmd := exec.CommandContext(ctx, os.Args[0],
				"-test.run=^Test_ComputeIfAbsent_Produces_Once_When_Processes_Race_On_One_Key$")
			cmd.Env = append(os.Environ(), crossProcDirEnv+"="+dir, crossProcLogEnv+"="+logPath)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr

			return cmd.Run()
		})
	}

	require.NoError(t, g.Wait(), "child process failed")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "produce\n"), "producer calls across %d processes", children)
}

func runCrossProcessChild(t *testing.T, dir, logPath string) {
	t.Helper()

	c, err := New(Options{Dir: dir})
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "app.jar")

	path, err := c.ComputeIfAbsent(context.Background(), makeSources(7), target, loggingProducer{log: logPath})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-child", string(got))
}
