package cli

import (
	"context"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/artifactcache/pkg/artifactcache"
)

// StatsCmd returns the stats command.
func StatsCmd(env *Env) *Command {
	return &Command{
		Flags:  flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage:  "stats",
		Short:  "Summarize cache contents",
		NoArgs: true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execStats(ctx, o, env)
		},
	}
}

type cacheStats struct {
	entries    int
	bytes      int64
	marked     int
	incomplete int
	oldest     time.Time
	newest     time.Time
}

func (s *cacheStats) add(e artifactcache.EntryInfo) {
	s.entries++
	s.bytes += e.Size

	if e.Marked {
		s.marked++
	}

	if !e.HasPayload || !e.HasMeta {
		s.incomplete++
	}

	if e.LastAccess.IsZero() {
		return
	}

	if s.oldest.IsZero() || e.LastAccess.Before(s.oldest) {
		s.oldest = e.LastAccess
	}

	if e.LastAccess.After(s.newest) {
		s.newest = e.LastAccess
	}
}

func execStats(ctx context.Context, o *IO, env *Env) error {
	cache, err := env.OpenCache()
	if err != nil {
		return err
	}

	var s cacheStats

	err = cache.Entries(ctx, func(e artifactcache.EntryInfo) error {
		s.add(e)

		return nil
	})
	if err != nil {
		return err
	}

	o.Println("dir=" + cache.Dir())
	o.Printf("entries=%d\n", s.entries)
	o.Printf("bytes=%d\n", s.bytes)
	o.Printf("marked=%d\n", s.marked)
	o.Printf("incomplete=%d\n", s.incomplete)
	o.Println("oldest_access=" + formatAccess(s.oldest))
	o.Println("newest_access=" + formatAccess(s.newest))

	return nil
}
