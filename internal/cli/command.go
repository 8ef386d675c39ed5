// Package cli wires the replica store to a small command-line front
// end: bootstrap a database, create/list/get/delete records, and an
// interactive shell.
package cli

import (
	"context"
	"errors"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/syncstore/internal/schema"
	"github.com/calvinalkan/syncstore/internal/storage"
)

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "syncstore" in
	// help. Includes the command name and arguments.
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, cfg Config, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// Run is the main entry point. Returns the process exit code.
// stdin is unused for now; the shell command manages the terminal
// directly.
func Run(ctx context.Context, _ io.Reader, out, errOut io.Writer, args []string) int {
	o := NewIO(out, errOut)

	globalFlags := flag.NewFlagSet("syncstore", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config file")
	flagDB := globalFlags.String("db", "", "Override database path")
	flagSchema := globalFlags.String("schema", "", "Override schema file path")

	err := globalFlags.Parse(args[1:])
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	cfg, err := LoadConfig(".", *flagConfig, Config{
		DBPath:     *flagDB,
		SchemaPath: *flagSchema,
	})
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	commands := allCommands()

	rest := globalFlags.Args()

	if *flagHelp {
		printUsage(o, commands)

		return 0
	}

	if len(rest) == 0 {
		o.ErrPrintln("error: no command provided")
		printUsage(o, commands)

		return 1
	}

	for _, cmd := range commands {
		if cmd.Name() != rest[0] {
			continue
		}

		if cmd.Flags != nil {
			cmd.Flags.SetOutput(&strings.Builder{})

			err = cmd.Flags.Parse(rest[1:])
			if err != nil {
				if errors.Is(err, flag.ErrHelp) {
					o.Println("Usage: syncstore", cmd.Usage)

					return 0
				}

				o.ErrPrintln("error:", err)

				return 1
			}

			rest = cmd.Flags.Args()
		} else {
			rest = rest[1:]
		}

		err = cmd.Exec(ctx, o, cfg, rest)
		if err != nil {
			o.ErrPrintln("error:", err)

			return 1
		}

		return 0
	}

	o.ErrPrintln("error: unknown command:", rest[0])
	printUsage(o, commands)

	return 1
}

// allCommands builds the command set for one invocation.
func allCommands() []*Command {
	return []*Command{
		cmdInit(),
		cmdCreate(),
		cmdLs(),
		cmdGet(),
		cmdRm(),
		cmdShell(),
	}
}

// printUsage prints the global help listing.
func printUsage(o *IO, commands []*Command) {
	o.Println("Usage: syncstore [global flags] <command> [args]")
	o.Println()
	o.Println("Commands:")

	for _, cmd := range commands {
		o.Printf("  %-22s %s\n", cmd.Usage, cmd.Short)
	}

	o.Println()
	o.Println("Global flags:")
	o.Println("  -c, --config file      Use specified config file")
	o.Println("      --db path          Override database path")
	o.Println("      --schema path      Override schema file path")
}

// openStore loads the schema file and opens the store from cfg.
func openStore(ctx context.Context, cfg Config) (*storage.Store, error) {
	info, err := schema.ParseFile(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}

	s, err := storage.Open(ctx, cfg.DBPath, info)
	if err != nil {
		return nil, err
	}

	return s, nil
}
