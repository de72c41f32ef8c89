package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/artifactcache/pkg/artifactcache"
)

// CleanupCmd returns the cleanup command.
func CleanupCmd(env *Env) *Command {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "Run even if the cleanup interval has not elapsed")

	return &Command{
		Flags: fs,
		Usage: "cleanup [--force]",
		Short: "Run one cleanup pass",
		Long: `Run one mark-and-sweep cleanup pass over the cache.

Entries unused for longer than stale_after are marked on the first pass
and deleted by a later pass if they are still unused. Without --force the
pass is skipped when the previous one finished less than cleanup_interval
ago.`,
		NoArgs: true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execCleanup(ctx, o, env, *force)
		},
	}
}

func execCleanup(ctx context.Context, o *IO, env *Env, force bool) error {
	cache, err := env.OpenCache()
	if err != nil {
		return err
	}

	var out artifactcache.CleanupOutcome
	if force {
		out = cache.ForceCleanup(ctx)
	} else {
		out = cache.Cleanup(ctx)
	}

	if !out.Ran {
		o.Println("skipped=" + string(out.SkipReason))

		return nil
	}

	o.Printf("candidates=%d\n", out.Candidates)
	o.Printf("scanned=%d\n", out.Scanned)
	o.Printf("inspected=%d\n", out.Inspected)
	o.Printf("marked=%d\n", out.Marked)
	o.Printf("unmarked=%d\n", out.Unmarked)
	o.Printf("deleted=%d\n", out.Deleted)
	o.Printf("temp_removed=%d\n", out.TempFilesRemoved)
	o.Printf("wrapped=%t\n", out.CursorWrapped)

	for _, e := range out.Errors {
		o.Warn(e.Error(), "left in place, retried next pass")
	}

	return nil
}
