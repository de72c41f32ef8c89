package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(env *Env) *Command {
	return &Command{
		Flags:  flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage:  "print-config",
		Short:  "Show resolved configuration",
		Long:   "Display the effective configuration and which files it was loaded from.",
		NoArgs: true,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			execPrintConfig(o, env.Config)

			return nil
		},
	}
}

func execPrintConfig(o *IO, cfg Config) {
	o.Println("effective_cwd=" + cfg.EffectiveCwd)
	o.Println("cache_dir=" + cfg.CacheDirAbs)
	o.Printf("version=%d\n", cfg.Version)
	o.Println("cleanup_interval=" + cfg.CleanupInterval.String())
	o.Println("stale_after=" + cfg.StaleAfter.String())
	o.Println("min_touch_interval=" + cfg.MinTouchInterval.String())
	o.Printf("max_scan_entries=%d\n", cfg.MaxScanEntries)

	o.Println("")
	o.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		o.Println("(defaults only)")

		return
	}

	if cfg.Sources.Global != "" {
		o.Println("global_config=" + cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		o.Println("project_config=" + cfg.Sources.Project)
	}
}
