package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one artcache subcommand.
type Command struct {
	// Flags holds the command's own flags. Global flags are parsed by Run
	// before the command name.
	Flags *flag.FlagSet

	// Usage starts with the command name, followed by its synopsis,
	// e.g. "verify [-j N]".
	Usage string

	// Short is the line shown in the command list.
	Short string

	// Long is shown by "artcache <cmd> --help". Falls back to Short.
	Long string

	// NoArgs rejects positional arguments before Exec runs.
	NoArgs bool

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's entry in the top-level usage text.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-40s %s", c.Usage, c.Short)
}

// WriteHelp writes the command's full help text to w.
func (c *Command) WriteHelp(w io.Writer) {
	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	fprintln(w, "Usage: artcache", c.Usage)
	fprintln(w)
	fprintln(w, desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		fprintln(w)
		fprintln(w, "Flags:")
		_, _ = io.WriteString(w, c.Flags.FlagUsages())
	}
}

// Run parses args, runs Exec and returns the exit code. Requested help goes
// to stdout; help after a usage error goes to stderr.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(io.Discard)

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.WriteHelp(o.out)

			return 0
		}

		return c.usageError(o, err)
	}

	rest := c.Flags.Args()
	if c.NoArgs && len(rest) > 0 {
		return c.usageError(o, fmt.Errorf("%w: %s", ErrUnexpectedArgs, strings.Join(rest, " ")))
	}

	if err := c.Exec(ctx, o, rest); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}

func (c *Command) usageError(o *IO, err error) int {
	o.ErrPrintln("error:", err)
	o.ErrPrintln()
	c.WriteHelp(o.errOut)

	return 1
}
