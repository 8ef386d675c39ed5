// Package storage implements the two-layer local replica database: a
// local overlay of pending writes over a mirror of last-known server
// state, with per-record vector clocks carrying causality.
//
// The visible record for a GUID is the overlay row when one exists and
// is not deleted, otherwise the mirror row when it is not overridden.
// Every mutation runs in one transaction that bumps the global change
// counter, advances the record's vclock, and keeps the override
// invariant: an overlay always shadows its mirror row.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/syncstore/internal/ident"
	"github.com/calvinalkan/syncstore/internal/schema"
)

// initMu serializes bootstrap so a second open does not race schema
// creation. Held only across Open; normal operations never take it.
var initMu sync.Mutex

// SyncStatus tags an overlay row with what the sync step owes the
// server for it.
type SyncStatus int

const (
	// StatusSynced means the server has acknowledged this state.
	StatusSynced SyncStatus = 0
	// StatusChanged means the row carries local changes the server has
	// not acknowledged. Every tombstone carries it, including tombstones
	// of records the server has never seen.
	StatusChanged SyncStatus = 1
	// StatusNew means the record was created locally and the server has
	// never seen it.
	StatusNew SyncStatus = 2
)

// Store is an open replica database. It owns its connection exclusively
// and is blocking and single-threaded per handle; callers needing
// concurrency serialize externally or open a second handle on the same
// file.
type Store struct {
	db       *sql.DB
	info     *schema.Info
	clientID string
}

// Open opens (creating if necessary) the replica database at path and
// bootstraps it for the given schema.
//
// First run generates a client ID, seeds the change counter at zero and
// records the schema version. Later runs load those and fail with
// [schema.ErrSchemaMismatch] when the stored version is incompatible.
func Open(ctx context.Context, path string, info *schema.Info) (*Store, error) {
	if ctx == nil {
		return nil, errors.New("open store: context is nil")
	}

	if info == nil {
		return nil, errors.New("open store: schema info is nil")
	}

	err := info.Validate()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	initMu.Lock()
	defer initMu.Unlock()

	db, err := openSqlite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clientID, err := bootstrap(ctx, db, info)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Store{
		db:       db,
		info:     info,
		clientID: clientID,
	}, nil
}

// bootstrap creates or loads the durable state in one transaction.
func bootstrap(ctx context.Context, db *sql.DB, info *schema.Info) (string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("bootstrap: begin: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	err = createSchema(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("bootstrap: %w", err)
	}

	clientID, haveClient, err := metaGetString(ctx, tx, metaClientID)
	if err != nil {
		return "", fmt.Errorf("bootstrap: %w", err)
	}

	if !haveClient {
		clientID, err = ident.NewGUID()
		if err != nil {
			return "", fmt.Errorf("bootstrap: %w", err)
		}

		err = metaPut(ctx, tx, metaClientID, clientID)
		if err != nil {
			return "", fmt.Errorf("bootstrap: %w", err)
		}

		err = metaPut(ctx, tx, metaChangeCounter, int64(0))
		if err != nil {
			return "", fmt.Errorf("bootstrap: %w", err)
		}

		err = metaPut(ctx, tx, metaSchemaVersion, info.Version)
		if err != nil {
			return "", fmt.Errorf("bootstrap: %w", err)
		}
	} else {
		storedVersion, haveVersion, err := metaGetString(ctx, tx, metaSchemaVersion)
		if err != nil {
			return "", fmt.Errorf("bootstrap: %w", err)
		}

		if !haveVersion {
			return "", fmt.Errorf("bootstrap: client id present but no schema version: %w", ErrCorrupt)
		}

		err = info.CompatibleWith(storedVersion)
		if err != nil {
			return "", fmt.Errorf("bootstrap: %w", err)
		}

		if storedVersion != info.Version {
			err = metaPut(ctx, tx, metaSchemaVersion, info.Version)
			if err != nil {
				return "", fmt.Errorf("bootstrap: %w", err)
			}
		}
	}

	err = tx.Commit()
	if err != nil {
		return "", fmt.Errorf("bootstrap: commit: %w", err)
	}

	return clientID, nil
}

// Close releases the database handle. Close is idempotent and safe on a
// nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	return nil
}

// ClientID returns the GUID identifying this replica within vclocks.
func (s *Store) ClientID() string {
	return s.clientID
}

// Info returns the schema this store was opened with. The value is
// immutable for the lifetime of the handle.
func (s *Store) Info() *schema.Info {
	return s.info
}

// open reports whether the handle is usable.
func (s *Store) open() error {
	if s == nil || s.db == nil {
		return errors.New("store is not open")
	}

	return nil
}

// inTx runs fn inside one transaction. Any error rolls back; commit
// errors surface as storage failures.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	err = fn(tx)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}
