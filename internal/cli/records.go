package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/syncstore/internal/schema"
)

var errRecordRequired = errors.New("record JSON is required")

func cmdCreate() *Command {
	return &Command{
		Usage: "create <record-json>",
		Short: "Create a record, prints its GUID",
		Exec: func(ctx context.Context, o *IO, cfg Config, args []string) error {
			if len(args) < 1 {
				return errRecordRequired
			}

			var native schema.NativeRecord

			err := json.Unmarshal([]byte(args[0]), &native)
			if err != nil {
				return fmt.Errorf("parse record: %w", err)
			}

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			guid, err := s.Create(ctx, native)
			if err != nil {
				return err
			}

			o.Println(guid)

			return nil
		},
	}
}

func cmdLs() *Command {
	flags := flag.NewFlagSet("ls", flag.ContinueOnError)
	pending := flags.BoolP("pending", "p", false, "Show unsynced overlay rows instead")

	return &Command{
		Flags: flags,
		Usage: "ls [-p]",
		Short: "List all visible records as JSON lines",
		Exec: func(ctx context.Context, o *IO, cfg Config, _ []string) error {
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			if *pending {
				rows, err := s.PendingChanges(ctx)
				if err != nil {
					return err
				}

				for _, row := range rows {
					o.Printf("%s deleted=%v status=%d vclock=%v\n",
						row.Guid, row.IsDeleted, row.SyncStatus, row.VClock)
				}

				return nil
			}

			records, err := s.GetAll(ctx)
			if err != nil {
				return err
			}

			for _, record := range records {
				line, err := json.Marshal(record)
				if err != nil {
					return fmt.Errorf("encode record: %w", err)
				}

				o.Println(string(line))
			}

			return nil
		},
	}
}

func cmdGet() *Command {
	return &Command{
		Usage: "get <guid>",
		Short: "Print one record as JSON",
		Exec: func(ctx context.Context, o *IO, cfg Config, args []string) error {
			if len(args) < 1 {
				return errors.New("guid is required")
			}

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			record, ok, err := s.Get(ctx, args[0])
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("get %s: not found", args[0])
			}

			line, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}

			o.Println(string(line))

			return nil
		},
	}
}

func cmdRm() *Command {
	return &Command{
		Usage: "rm <guid>",
		Short: "Delete a record (leaves a tombstone for sync)",
		Exec: func(ctx context.Context, o *IO, cfg Config, args []string) error {
			if len(args) < 1 {
				return errors.New("guid is required")
			}

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			deleted, err := s.Delete(ctx, args[0])
			if err != nil {
				return err
			}

			if !deleted {
				return fmt.Errorf("rm %s: not found", args[0])
			}

			return nil
		},
	}
}
