package cli_test

import (
	"testing"

	"github.com/calvinalkan/artifactcache/internal/cli"
	"github.com/calvinalkan/artifactcache/pkg/artifactcache"
)

func Test_Usage_Lists_Commands_When_Invoked_Without_Args(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun()

	cli.AssertContains(t, stdout, "Usage: artcache")

	for _, name := range []string{"cleanup", "ls", "verify", "stats", "watch", "print-config"} {
		cli.AssertContains(t, stdout, "  "+name)
	}
}

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "ls")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")
	cli.AssertContains(t, stderr, "--cache-dir")
}

func Test_Empty_Cache_Dir_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--cache-dir=", "ls")

	cli.AssertContains(t, stderr, "cache_dir cannot be empty")
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("frobnicate")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if stdout != "" {
		t.Errorf("stdout=%q, want empty", stdout)
	}

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Command_Help_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("cleanup", "--help")

	cli.AssertContains(t, stdout, "Usage: artcache cleanup [--force]")
	cli.AssertContains(t, stdout, "mark-and-sweep")
	cli.AssertContains(t, stdout, "--force")
}

func Test_Command_Rejects_Bad_Flag_And_Prints_Help(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("ls", "--bogus")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if stdout != "" {
		t.Errorf("stdout=%q, want empty", stdout)
	}

	cli.AssertContains(t, stderr, "error: unknown flag: --bogus")
	cli.AssertContains(t, stderr, "Usage: artcache ls")
}

func Test_Command_Rejects_Positional_Args(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("stats", "extra", "args")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if stdout != "" {
		t.Errorf("stdout=%q, want empty", stdout)
	}

	cli.AssertContains(t, stderr, "unexpected arguments: extra args")
	cli.AssertContains(t, stderr, "Usage: artcache stats")
	cli.AssertNotContains(t, stderr, "entries=")
}

func Test_Verbose_Flag_Enables_Debug_Logging(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.OpenCache(artifactcache.Options{})

	_, quiet, _ := c.Run("cleanup")
	cli.AssertNotContains(t, quiet, "level=debug")

	_, loud, _ := c.Run("-v", "cleanup")
	cli.AssertContains(t, loud, "level=debug")
	cli.AssertContains(t, loud, "cleanup skipped")
}
