package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/artifactcache/pkg/artifactcache"
)

// LsCmd returns the ls command.
func LsCmd(env *Env) *Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	marked := fs.Bool("marked", false, "Only list entries marked for deletion")
	limit := fs.IntP("limit", "n", 0, "Stop after `N` entries (0 = all)")

	return &Command{
		Flags: fs,
		Usage: "ls [--marked] [-n N]",
		Short: "List cache entries",
		Long: `List cache entries, one per line:

  <key> <size> <last-access> <flags> <name>

flags is a combination of m (marked), P (payload missing) and M (metadata
missing), or - when none apply. last-access is the metadata mtime in UTC.`,
		NoArgs: true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if *limit < 0 {
				return fmt.Errorf("%w: --limit", ErrNegativeValue)
			}

			return execLs(ctx, o, env, *marked, *limit)
		},
	}
}

func execLs(ctx context.Context, o *IO, env *Env, markedOnly bool, limit int) error {
	cache, err := env.OpenCache()
	if err != nil {
		return err
	}

	printed := 0

	err = cache.Entries(ctx, func(e artifactcache.EntryInfo) error {
		if markedOnly && !e.Marked {
			return nil
		}

		if limit > 0 && printed >= limit {
			return errStopListing
		}

		o.Printf("%s %d %s %s %s\n", e.Key, e.Size, formatAccess(e.LastAccess), entryFlags(e), e.Name)
		printed++

		return nil
	})
	if err != nil && !errors.Is(err, errStopListing) {
		return err
	}

	return nil
}

var errStopListing = errors.New("stop listing")

func formatAccess(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.UTC().Format(time.RFC3339)
}

func entryFlags(e artifactcache.EntryInfo) string {
	var flags []byte

	if e.Marked {
		flags = append(flags, 'm')
	}

	if !e.HasPayload {
		flags = append(flags, 'P')
	}

	if !e.HasMeta {
		flags = append(flags, 'M')
	}

	if len(flags) == 0 {
		return "-"
	}

	return string(flags)
}
