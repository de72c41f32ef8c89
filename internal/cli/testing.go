package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/artifactcache/pkg/artifactcache"
)

// CLI runs artcache commands against a temp working directory in tests.
// The cache lives in Dir/.artcache unless a test overrides it.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI creates a new test CLI with a temp directory. HOME and the XDG
// variables are left unset so no user config leaks into the test.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	return &CLI{
		t:   t,
		Dir: t.TempDir(),
		Env: map[string]string{},
	}
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "artcache" or "--cwd" - those are added automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	return r.RunSignal(nil, args...)
}

// RunSignal is Run with a signal channel that cancels the command.
func (r *CLI) RunSignal(sigCh <-chan os.Signal, args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"artcache", "--cwd", r.Dir}, args...)
	code := Run(nil, &outBuf, &errBuf, fullArgs, r.Env, sigCh)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// CacheDir returns the default cache directory for this CLI.
func (r *CLI) CacheDir() string {
	return filepath.Join(r.Dir, ".artcache")
}

// OpenCache opens the CLI's cache directly, with the given options merged
// over the directory.
func (r *CLI) OpenCache(opts artifactcache.Options) *artifactcache.Cache {
	r.t.Helper()

	opts.Dir = r.CacheDir()

	c, err := artifactcache.New(opts)
	if err != nil {
		r.t.Fatalf("opening cache: %v", err)
	}

	return c
}

// Store produces one entry named name with the given content and returns
// the path of the materialized target.
func (r *CLI) Store(c *artifactcache.Cache, name, content string) string {
	r.t.Helper()

	target := filepath.Join(r.t.TempDir(), name)
	src := StaticSource{SourceSize: int32(len(content)), SourceHash: int64(len(name))<<32 | int64(len(content))}

	out, err := c.ComputeIfAbsent(context.Background(), []artifactcache.Source{src}, target, staticProducer(content))
	if err != nil {
		r.t.Fatalf("storing %s: %v", name, err)
	}

	return out
}

// StaticSource is a fixed [artifactcache.Source] for tests.
type StaticSource struct {
	SourceSize int32
	SourceHash int64
}

// Size implements [artifactcache.Source].
func (s StaticSource) Size() int32 { return s.SourceSize }

// Hash implements [artifactcache.Source].
func (s StaticSource) Hash() int64 { return s.SourceHash }

type staticProducer string

func (p staticProducer) UpdateDigest(d *artifactcache.Digest) {
	d.WriteString(string(p))
}

func (p staticProducer) Produce(_ context.Context, tmp string) ([][]string, error) {
	return nil, os.WriteFile(tmp, []byte(p), 0o644)
}

func (staticProducer) ConsumeInfo(artifactcache.Source, artifactcache.SourceInfo) {}

func (staticProducer) UseCacheAsTargetFile() bool { return false }

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}
