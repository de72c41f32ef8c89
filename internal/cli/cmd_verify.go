package cli

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/artifactcache/pkg/artifactcache"
)

// VerifyCmd returns the verify command.
func VerifyCmd(env *Env) *Command {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	jobs := fs.IntP("jobs", "j", runtime.GOMAXPROCS(0), "Check up to `N` entries in parallel")

	return &Command{
		Flags: fs,
		Usage: "verify [-j N]",
		Short: "Check every entry's metadata",
		Long: `Decode every entry's metadata and check that its payload exists.

Broken entries are printed as "<key> <reason> <name>". Nothing is
modified: broken entries are rebuilt by the next lookup or removed by
cleanup. Exits non-zero when any entry is broken.`,
		NoArgs: true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if *jobs < 1 {
				return ErrInvalidJobs
			}

			return execVerify(ctx, o, env, *jobs)
		},
	}
}

func execVerify(ctx context.Context, o *IO, env *Env, jobs int) error {
	cache, err := env.OpenCache()
	if err != nil {
		return err
	}

	var entries []artifactcache.EntryInfo

	err = cache.Entries(ctx, func(e artifactcache.EntryInfo) error {
		entries = append(entries, e)

		return nil
	})
	if err != nil {
		return err
	}

	results := make([]error, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for i, e := range entries {
		g.Go(func() error {
			err := cache.Verify(gctx, e)
			if err != nil && !errors.Is(err, artifactcache.ErrCorrupt) {
				return fmt.Errorf("verifying %s: %w", e.Stem, err)
			}

			results[i] = err

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	corrupt := 0

	for i, err := range results {
		if err == nil {
			continue
		}

		corrupt++

		reason := "corrupt"
		if ie, ok := errorsAs[*artifactcache.IntegrityError](err); ok {
			reason = string(ie.Reason)
		}

		o.Printf("%s %s %s\n", entries[i].Key, reason, entries[i].Name)
	}

	o.Printf("checked=%d corrupt=%d\n", len(entries), corrupt)

	if corrupt > 0 {
		return fmt.Errorf("%w: %d of %d", ErrCorruptEntries, corrupt, len(entries))
	}

	return nil
}
