package storage_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/syncstore/internal/schema"
	"github.com/calvinalkan/syncstore/internal/storage"
)

func Test_Open_Bootstraps_Fresh_Database(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, testSchema(t))

	if s.ClientID() == "" {
		t.Fatal("no client id allocated")
	}

	if n := counter(t, s); n != 0 {
		t.Fatalf("fresh counter = %d, want 0", n)
	}

	if s.Info().Collection != "contacts" {
		t.Fatalf("info collection = %s", s.Info().Collection)
	}
}

func Test_Open_Preserves_Bootstrap_State_Across_Reopens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "replica.sqlite")

	s1 := openTestStoreAt(t, path, testSchema(t))
	clientID := s1.ClientID()

	mustCreate(t, s1, schema.NativeRecord{"name": "a"})

	err := s1.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	s2 := openTestStoreAt(t, path, testSchema(t))

	if s2.ClientID() != clientID {
		t.Fatalf("client id changed across reopen: %s vs %s", s2.ClientID(), clientID)
	}

	if n := counter(t, s2); n != 1 {
		t.Fatalf("counter after reopen = %d, want 1", n)
	}

	records, err := s2.GetAll(t.Context())
	if err != nil {
		t.Fatalf("get all: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("records after reopen = %d, want 1", len(records))
	}
}

func Test_Open_Fails_On_Incompatible_Schema_Version(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "replica.sqlite")

	s1 := openTestStoreAt(t, path, testSchema(t))

	err := s1.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	incompatible := testSchema(t)
	incompatible.Version = "2.0"

	_, err = storage.Open(t.Context(), path, incompatible)
	if !errors.Is(err, schema.ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
}

func Test_Open_Allows_Minor_Version_Upgrade(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "replica.sqlite")

	s1 := openTestStoreAt(t, path, testSchema(t))

	err := s1.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	upgraded := testSchema(t)
	upgraded.Version = "1.1"

	s2 := openTestStoreAt(t, path, upgraded)

	// The stored version follows the provided schema.
	err = s2.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	downgraded := testSchema(t)

	_, err = storage.Open(t.Context(), path, downgraded)
	if !errors.Is(err, schema.ErrSchemaMismatch) {
		t.Fatalf("reopen with older minor: err = %v, want ErrSchemaMismatch", err)
	}
}

func Test_Operations_Fail_After_Close(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, testSchema(t))

	err := s.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err = s.Create(t.Context(), schema.NativeRecord{"name": "a"})
	if err == nil {
		t.Fatal("create on closed store succeeded")
	}

	_, _, err = s.Get(t.Context(), "whatever")
	if err == nil {
		t.Fatal("get on closed store succeeded")
	}

	// Close again is a no-op.
	err = s.Close()
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func Test_Two_Handles_On_Same_File_Bootstrap_Once(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "replica.sqlite")

	s1 := openTestStoreAt(t, path, testSchema(t))
	s2 := openTestStoreAt(t, path, testSchema(t))

	if s1.ClientID() != s2.ClientID() {
		t.Fatalf("handles disagree on client id: %s vs %s", s1.ClientID(), s2.ClientID())
	}
}
