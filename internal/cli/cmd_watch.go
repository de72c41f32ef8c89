package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

// WatchCmd returns the watch command.
func WatchCmd(env *Env) *Command {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	every := fs.Duration("every", 0, "Attempt cleanup this often (default cleanup_interval)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on `addr`")

	return &Command{
		Flags: fs,
		Usage: "watch [--every D] [--metrics-addr ADDR]",
		Short: "Run cleanup periodically until interrupted",
		Long: `Keep the cache open and attempt a cleanup pass immediately and then
every --every. Passes still respect cleanup_interval, so several watchers
on one cache directory do not duplicate work.

With --metrics-addr the cache's counters are served at /metrics.`,
		NoArgs: true,
		Exec: func(ctx context.Context, _ *IO, _ []string) error {
			return execWatch(ctx, env, *every, *metricsAddr)
		},
	}
}

func execWatch(ctx context.Context, env *Env, every time.Duration, metricsAddr string) error {
	cache, err := env.OpenCache()
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}))

		srv := &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			level.Info(env.Logger).Log("msg", "serving metrics", "addr", ln.Addr().String())

			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				level.Error(env.Logger).Log("msg", "metrics server failed", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				level.Error(env.Logger).Log("msg", "metrics server shutdown failed", "err", err)
			}
		}()
	}

	level.Info(env.Logger).Log("msg", "watching cache", "dir", cache.Dir(), "every", every)

	cache.RunCleanupLoop(ctx, every)

	return nil
}
