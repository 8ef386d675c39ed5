package cli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/syncstore/internal/cli"
)

func Test_LoadConfig_Defaults_When_No_Files(t *testing.T) {
	t.Parallel()

	cfg, err := cli.LoadConfig(t.TempDir(), "", cli.Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DBPath != "replica.sqlite" || cfg.SchemaPath != "schema.json" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func Test_LoadConfig_Reads_Project_File_With_Comments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	data := []byte(`{
		// local database location
		"db_path": "data/replica.sqlite",
	}`)

	err := os.WriteFile(filepath.Join(dir, cli.ConfigFileName), data, 0o600)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := cli.LoadConfig(dir, "", cli.Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DBPath != "data/replica.sqlite" {
		t.Fatalf("db path = %s", cfg.DBPath)
	}

	// Unset fields keep their defaults.
	if cfg.SchemaPath != "schema.json" {
		t.Fatalf("schema path = %s", cfg.SchemaPath)
	}
}

func Test_LoadConfig_CLI_Overrides_Win(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, cli.ConfigFileName),
		[]byte(`{"db_path": "from-file.sqlite"}`), 0o600)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := cli.LoadConfig(dir, "", cli.Config{DBPath: "from-flag.sqlite"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DBPath != "from-flag.sqlite" {
		t.Fatalf("db path = %s", cfg.DBPath)
	}
}

func Test_LoadConfig_Fails_On_Missing_Explicit_File(t *testing.T) {
	t.Parallel()

	_, err := cli.LoadConfig(t.TempDir(), "/does/not/exist.json", cli.Config{})
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}
