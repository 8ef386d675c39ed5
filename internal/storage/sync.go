package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/calvinalkan/syncstore/internal/ident"
	"github.com/calvinalkan/syncstore/internal/schema"
	"github.com/calvinalkan/syncstore/internal/vclock"
)

// This file is the seam between the store and the external sync step.
// The sync step reads pending overlay rows, pushes them to the server,
// and feeds acknowledgements and inbound changes back through here. No
// merge decisions happen locally; the vclocks carried on each row are
// the causal evidence the external reconciler consults.

// LocalRow is one overlay row, exposed for the sync step and for
// inspection in tests.
type LocalRow struct {
	Guid          string
	Record        schema.LocalRecord
	VClock        vclock.VClock
	LastWriterID  string
	LocalModified ident.MsTime
	IsDeleted     bool
	SyncStatus    SyncStatus
	SchemaVersion string
}

// MirrorRow is one last-known-server-state row.
type MirrorRow struct {
	Guid           string
	Record         schema.LocalRecord
	VClock         vclock.VClock
	LastWriterID   string
	ServerModified ident.MsTime
	IsOverridden   bool
	TTL            *uint32
	SortIndex      *int
}

// IncomingRecord is an inbound server change the sync step writes into
// the mirror.
type IncomingRecord struct {
	Guid           string
	Record         schema.LocalRecord
	VClock         vclock.VClock
	LastWriterID   string
	ServerModified ident.MsTime
	TTL            *uint32
	SortIndex      *int
}

// PendingChanges returns every overlay row the server has not
// acknowledged yet (sync_status != synced), tombstones included.
func (s *Store) PendingChanges(ctx context.Context) ([]LocalRow, error) {
	if err := s.open(); err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT guid, record_data, vector_clock, last_writer_id,
		       local_modified_ms, is_deleted, sync_status, schema_version
		FROM rec_local
		WHERE sync_status != ?
		ORDER BY guid`, int(StatusSynced))
	if err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}

	defer func() { _ = rows.Close() }()

	pending := []LocalRow{}

	for rows.Next() {
		row, err := scanLocalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("pending changes: %w", err)
		}

		pending = append(pending, row)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}

	return pending, nil
}

// ApplyIncoming writes a server-side change into the mirror. The row is
// overridden from the start when a local overlay already shadows it;
// the external merge step decides what happens to that overlay.
func (s *Store) ApplyIncoming(ctx context.Context, incoming IncomingRecord) error {
	if err := s.open(); err != nil {
		return fmt.Errorf("apply incoming: %w", err)
	}

	recordData, err := encodeRecord(incoming.Record)
	if err != nil {
		return fmt.Errorf("apply incoming: %w", err)
	}

	clock, err := vclock.Marshal(incoming.VClock)
	if err != nil {
		return fmt.Errorf("apply incoming: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var haveOverlay bool

		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM rec_local WHERE guid = ?)",
			incoming.Guid).Scan(&haveOverlay)
		if err != nil {
			return fmt.Errorf("overlay check %s: %w", incoming.Guid, err)
		}

		overridden := 0
		if haveOverlay {
			overridden = 1
		}

		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO rec_mirror (
				guid, record_data, vector_clock, last_writer_id,
				server_modified_ms, is_overridden, ttl, sortindex
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			incoming.Guid, recordData, clock, incoming.LastWriterID,
			int64(incoming.ServerModified), overridden,
			nullableUint32(incoming.TTL), nullableInt(incoming.SortIndex),
		)
		if err != nil {
			return fmt.Errorf("write mirror %s: %w", incoming.Guid, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("apply incoming: %w", err)
	}

	return nil
}

// MarkSynced records the server's acknowledgement of a pending overlay
// row. Live records are promoted into the mirror and the overlay is
// cleared; tombstones drop both rows. Fails with [ErrNoSuchRecord] when
// no overlay exists for guid.
func (s *Store) MarkSynced(ctx context.Context, guid string, serverModified ident.MsTime) error {
	if err := s.open(); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			recordData string
			clock      string
			lastWriter string
			isDeleted  bool
		)

		err := tx.QueryRowContext(ctx, `
			SELECT record_data, vector_clock, last_writer_id, is_deleted
			FROM rec_local WHERE guid = ?`, guid).
			Scan(&recordData, &clock, &lastWriter, &isDeleted)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("guid %s: %w", guid, ErrNoSuchRecord)
		}

		if err != nil {
			return fmt.Errorf("read overlay %s: %w", guid, err)
		}

		if isDeleted {
			// Server observed the deletion; both sides forget the record.
			_, err = tx.ExecContext(ctx, "DELETE FROM rec_mirror WHERE guid = ?", guid)
			if err != nil {
				return fmt.Errorf("drop mirror %s: %w", guid, err)
			}
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO rec_mirror (
					guid, record_data, vector_clock, last_writer_id,
					server_modified_ms, is_overridden
				) VALUES (?, ?, ?, ?, ?, 0)`,
				guid, recordData, clock, lastWriter, int64(serverModified),
			)
			if err != nil {
				return fmt.Errorf("promote mirror %s: %w", guid, err)
			}
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM rec_local WHERE guid = ?", guid)
		if err != nil {
			return fmt.Errorf("clear overlay %s: %w", guid, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	return nil
}

// LocalRow returns the overlay row for guid, visible or not.
func (s *Store) LocalRow(ctx context.Context, guid string) (LocalRow, bool, error) {
	if err := s.open(); err != nil {
		return LocalRow{}, false, fmt.Errorf("local row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT guid, record_data, vector_clock, last_writer_id,
		       local_modified_ms, is_deleted, sync_status, schema_version
		FROM rec_local WHERE guid = ?`, guid)
	if err != nil {
		return LocalRow{}, false, fmt.Errorf("local row %s: %w", guid, err)
	}

	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return LocalRow{}, false, rows.Err()
	}

	row, err := scanLocalRow(rows)
	if err != nil {
		return LocalRow{}, false, fmt.Errorf("local row %s: %w", guid, err)
	}

	return row, true, nil
}

// MirrorRow returns the mirror row for guid, overridden or not.
func (s *Store) MirrorRow(ctx context.Context, guid string) (MirrorRow, bool, error) {
	if err := s.open(); err != nil {
		return MirrorRow{}, false, fmt.Errorf("mirror row: %w", err)
	}

	var (
		row        MirrorRow
		recordData string
		clock      string
		serverMs   int64
		ttl        sql.NullInt64
		sortindex  sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT guid, record_data, vector_clock, last_writer_id,
		       server_modified_ms, is_overridden, ttl, sortindex
		FROM rec_mirror WHERE guid = ?`, guid).
		Scan(&row.Guid, &recordData, &clock, &row.LastWriterID,
			&serverMs, &row.IsOverridden, &ttl, &sortindex)
	if errors.Is(err, sql.ErrNoRows) {
		return MirrorRow{}, false, nil
	}

	if err != nil {
		return MirrorRow{}, false, fmt.Errorf("mirror row %s: %w", guid, err)
	}

	row.Record, err = decodeRecord(recordData)
	if err != nil {
		return MirrorRow{}, false, fmt.Errorf("mirror row %s: %w", guid, err)
	}

	row.VClock, err = vclock.Unmarshal(clock)
	if err != nil {
		return MirrorRow{}, false, fmt.Errorf("mirror row %s: %w: %w", guid, ErrCorrupt, err)
	}

	row.ServerModified = ident.MsTime(serverMs)

	if ttl.Valid {
		v := uint32(ttl.Int64)
		row.TTL = &v
	}

	if sortindex.Valid {
		v := int(sortindex.Int64)
		row.SortIndex = &v
	}

	return row, true, nil
}

// ChangeCounter reads the global change counter, for diagnostics and
// invariant checks.
func (s *Store) ChangeCounter(ctx context.Context) (int64, error) {
	if err := s.open(); err != nil {
		return 0, fmt.Errorf("change counter: %w", err)
	}

	var counter int64

	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", metaChangeCounter).Scan(&counter)
	if err != nil {
		return 0, fmt.Errorf("change counter: %w", err)
	}

	return counter, nil
}

// scanLocalRow decodes one rec_local result row.
func scanLocalRow(rows *sql.Rows) (LocalRow, error) {
	var (
		row        LocalRow
		recordData string
		clock      string
		localMs    int64
		status     int
	)

	err := rows.Scan(&row.Guid, &recordData, &clock, &row.LastWriterID,
		&localMs, &row.IsDeleted, &status, &row.SchemaVersion)
	if err != nil {
		return LocalRow{}, fmt.Errorf("scan: %w", err)
	}

	row.Record, err = decodeRecord(recordData)
	if err != nil {
		return LocalRow{}, err
	}

	row.VClock, err = vclock.Unmarshal(clock)
	if err != nil {
		return LocalRow{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	row.LocalModified = ident.MsTime(localMs)
	row.SyncStatus = SyncStatus(status)

	return row, nil
}

// nullableUint32 converts an optional uint32 for insertion.
func nullableUint32(v *uint32) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// nullableInt converts an optional int for insertion.
func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
