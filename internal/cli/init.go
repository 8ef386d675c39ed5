package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// exampleSchema is written by `init` when no schema file exists yet.
const exampleSchema = `{
	// Record schema for this replica. Fields not listed here are
	// rejected at the store boundary.
	"collection": "records",
	"version": "1.0",
	"fields": [
		{"name": "name", "type": "string", "required": true},
		{"name": "notes", "type": "untyped"},
	],
	// Records whose combined values for these fields match are
	// duplicates. Leave empty to disable deduplication.
	"dedupe_on": [],
}
`

func cmdInit() *Command {
	return &Command{
		Usage: "init",
		Short: "Create the schema file and bootstrap the database",
		Exec: func(ctx context.Context, o *IO, cfg Config, _ []string) error {
			_, err := os.Stat(cfg.SchemaPath)
			if os.IsNotExist(err) {
				// Atomic write so a crash never leaves a half schema.
				err = atomic.WriteFile(cfg.SchemaPath, bytes.NewReader([]byte(exampleSchema)))
				if err != nil {
					return fmt.Errorf("write schema %s: %w", cfg.SchemaPath, err)
				}

				o.Println("wrote", cfg.SchemaPath)
			} else if err != nil {
				return fmt.Errorf("stat schema %s: %w", cfg.SchemaPath, err)
			}

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}

			defer func() { _ = s.Close() }()

			o.Println("database:", cfg.DBPath)
			o.Println("client id:", s.ClientID())
			o.Println("collection:", s.Info().Collection)

			return nil
		},
	}
}
