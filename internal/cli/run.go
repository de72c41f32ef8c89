package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/artifactcache/pkg/artifactcache"
)

// Env is the environment snapshot commands are allowed to look at.
type Env struct {
	Config   Config
	Logger   log.Logger
	Registry *prometheus.Registry
}

// OpenCache opens the configured cache, registering its metrics with the
// env registry.
func (e *Env) OpenCache() (*artifactcache.Cache, error) {
	opts := e.Config.CacheOptions()
	opts.Logger = e.Logger
	opts.Registerer = e.Registry

	return artifactcache.New(opts)
}

// Run is the main entry point. Returns exit code.
// sigCh may be nil; otherwise the first signal cancels the running command.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("artcache", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use specified config `file`")
	cacheDir := globals.String("cache-dir", "", "Override cache directory")
	verbose := globals.BoolP("verbose", "v", false, "Log debug output to stderr")
	help := globals.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	if err := globals.Parse(args); err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, nil)

		return 1
	}

	if globals.Changed("cache-dir") && *cacheDir == "" {
		fprintln(errOut, "error:", ErrCacheDirEmpty)
		printUsage(errOut, nil)

		return 1
	}

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride:  *workDir,
		ConfigPath:       *configPath,
		CacheDirOverride: *cacheDir,
		Env:              env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cmdEnv := &Env{
		Config:   cfg,
		Logger:   newLogger(errOut, *verbose),
		Registry: prometheus.NewRegistry(),
	}

	commands := []*Command{
		CleanupCmd(cmdEnv),
		LsCmd(cmdEnv),
		VerifyCmd(cmdEnv),
		StatsCmd(cmdEnv),
		WatchCmd(cmdEnv),
		PrintConfigCmd(cmdEnv),
	}

	rest := globals.Args()
	if *help || len(rest) == 0 {
		printUsage(out, commands)

		return 0
	}

	var cmd *Command

	for _, c := range commands {
		if c.Name() == rest[0] {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCommand, rest[0]))
		printUsage(errOut, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(out, errOut), rest[1:])
}

func newLogger(w io.Writer, verbose bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	allow := level.AllowWarn()
	if verbose {
		allow = level.AllowDebug()
	}

	return level.NewFilter(logger, allow)
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, `artcache - inspect and maintain an artifact cache

Usage: artcache [flags] <command> [args]

Flags:
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
      --cache-dir <dir>  Override cache directory
  -v, --verbose          Log debug output to stderr
  -h, --help             Show help`)

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

// errorsAs is a small generic helper around [errors.As].
func errorsAs[T error](err error) (T, bool) {
	var target T

	ok := errors.As(err, &target)

	return target, ok
}
