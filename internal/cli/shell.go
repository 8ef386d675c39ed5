package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/syncstore/internal/schema"
	"github.com/calvinalkan/syncstore/internal/storage"
)

// shellCommands lists REPL verbs for the completer.
var shellCommands = []string{"create", "get", "ls", "rm", "exists", "pending", "counter", "help", "exit", "quit"}

func cmdShell() *Command {
	return &Command{
		Usage: "shell",
		Short: "Interactive record shell",
		Exec: func(ctx context.Context, o *IO, cfg Config, _ []string) error {
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			line := liner.NewLiner()
			defer func() { _ = line.Close() }()

			line.SetCtrlCAborts(true)
			line.SetCompleter(func(prefix string) []string {
				var matches []string

				for _, cmd := range shellCommands {
					if strings.HasPrefix(cmd, prefix) {
						matches = append(matches, cmd)
					}
				}

				return matches
			})

			o.Println("syncstore shell — 'help' for commands, 'exit' to leave")

			for {
				input, err := line.Prompt("syncstore> ")
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
					return nil
				}

				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}

				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}

				line.AppendHistory(input)

				if input == "exit" || input == "quit" {
					return nil
				}

				err = runShellCommand(ctx, o, s, input)
				if err != nil {
					o.ErrPrintln("error:", err)
				}
			}
		},
	}
}

// runShellCommand executes one REPL line against the open store.
func runShellCommand(ctx context.Context, o *IO, s *storage.Store, input string) error {
	verb, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "help":
		o.Println("  create <json>    Create a record")
		o.Println("  get <guid>       Print a record")
		o.Println("  ls               List visible records")
		o.Println("  rm <guid>        Delete a record")
		o.Println("  exists <guid>    Check visibility")
		o.Println("  pending          Show unsynced overlay rows")
		o.Println("  counter          Show the global change counter")
		o.Println("  exit             Leave the shell")

		return nil

	case "create":
		var native schema.NativeRecord

		err := json.Unmarshal([]byte(rest), &native)
		if err != nil {
			return fmt.Errorf("parse record: %w", err)
		}

		guid, err := s.Create(ctx, native)
		if err != nil {
			return err
		}

		o.Println(guid)

		return nil

	case "get":
		record, ok, err := s.Get(ctx, rest)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("%s: not found", rest)
		}

		line, err := json.Marshal(record)
		if err != nil {
			return err
		}

		o.Println(string(line))

		return nil

	case "ls":
		records, err := s.GetAll(ctx)
		if err != nil {
			return err
		}

		for _, record := range records {
			line, err := json.Marshal(record)
			if err != nil {
				return err
			}

			o.Println(string(line))
		}

		return nil

	case "rm":
		deleted, err := s.Delete(ctx, rest)
		if err != nil {
			return err
		}

		if !deleted {
			return fmt.Errorf("%s: not found", rest)
		}

		return nil

	case "exists":
		exists, err := s.Exists(ctx, rest)
		if err != nil {
			return err
		}

		o.Println(exists)

		return nil

	case "pending":
		pending, err := s.PendingChanges(ctx)
		if err != nil {
			return err
		}

		for _, row := range pending {
			o.Printf("%s deleted=%v status=%d vclock=%v\n",
				row.Guid, row.IsDeleted, row.SyncStatus, row.VClock)
		}

		return nil

	case "counter":
		n, err := s.ChangeCounter(ctx)
		if err != nil {
			return err
		}

		o.Println(n)

		return nil

	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}
