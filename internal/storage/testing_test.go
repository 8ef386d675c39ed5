package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/calvinalkan/syncstore/internal/schema"
	"github.com/calvinalkan/syncstore/internal/storage"
)

// testSchema returns the schema used across storage tests: one required
// string field, one optional number, deduping on "name".
func testSchema(t *testing.T) *schema.Info {
	t.Helper()

	info := &schema.Info{
		Collection: "contacts",
		Version:    "1.0",
		Fields: []schema.Field{
			{Name: "name", Type: schema.FieldString, Required: true},
			{Name: "age", Type: schema.FieldNumber},
		},
		DedupeOn: []string{"name"},
	}

	err := info.Validate()
	if err != nil {
		t.Fatalf("test schema: %v", err)
	}

	return info
}

// noDedupeSchema is testSchema without dedupe fields.
func noDedupeSchema(t *testing.T) *schema.Info {
	t.Helper()

	info := testSchema(t)
	info.DedupeOn = nil

	return info
}

// openTestStore opens a store on a fresh temp database.
func openTestStore(t *testing.T, info *schema.Info) *storage.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "replica.sqlite")

	return openTestStoreAt(t, path, info)
}

// openTestStoreAt opens a store on a specific database file so tests
// can close and reopen it.
func openTestStoreAt(t *testing.T, path string, info *schema.Info) *storage.Store {
	t.Helper()

	s, err := storage.Open(t.Context(), path, info)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

// mustCreate creates a record and returns its guid.
func mustCreate(t *testing.T, s *storage.Store, native schema.NativeRecord) string {
	t.Helper()

	guid, err := s.Create(t.Context(), native)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	return guid
}

// counter reads the global change counter.
func counter(t *testing.T, s *storage.Store) int64 {
	t.Helper()

	n, err := s.ChangeCounter(t.Context())
	if err != nil {
		t.Fatalf("change counter: %v", err)
	}

	return n
}

// localRow fetches the overlay row for guid, failing if absent.
func localRow(t *testing.T, s *storage.Store, guid string) storage.LocalRow {
	t.Helper()

	row, ok, err := s.LocalRow(t.Context(), guid)
	if err != nil {
		t.Fatalf("local row: %v", err)
	}

	if !ok {
		t.Fatalf("no overlay row for %s", guid)
	}

	return row
}

// mirrorRow fetches the mirror row for guid, failing if absent.
func mirrorRow(t *testing.T, s *storage.Store, guid string) storage.MirrorRow {
	t.Helper()

	row, ok, err := s.MirrorRow(t.Context(), guid)
	if err != nil {
		t.Fatalf("mirror row: %v", err)
	}

	if !ok {
		t.Fatalf("no mirror row for %s", guid)
	}

	return row
}
