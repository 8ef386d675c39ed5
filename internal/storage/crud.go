package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/calvinalkan/syncstore/internal/ident"
	"github.com/calvinalkan/syncstore/internal/schema"
	"github.com/calvinalkan/syncstore/internal/vclock"
)

// visibleRecordSQL selects the single logically visible row for a GUID:
// the overlay unless deleted, else the non-overridden mirror.
const visibleRecordSQL = `
	SELECT record_data FROM rec_local
	WHERE guid = :guid AND is_deleted = 0
	UNION ALL
	SELECT record_data FROM rec_mirror
	WHERE guid = :guid AND is_overridden = 0
	LIMIT 1`

// Create inserts a new record from its native form and returns the
// assigned GUID.
//
// Fails with [schema.ErrSchemaViolation] on translation, [ErrIDNotUnique]
// when the GUID occupies an identity slot in either table (tombstones
// included), and [ErrDuplicate] when the schema's dedupe fields match
// another visible record.
func (s *Store) Create(ctx context.Context, native schema.NativeRecord) (string, error) {
	if err := s.open(); err != nil {
		return "", fmt.Errorf("create: %w", err)
	}

	guid, local, err := s.info.NativeToLocal(native, schema.ToLocalCreation)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}

	recordData, err := encodeRecord(local)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		taken, err := identityTaken(ctx, tx, guid)
		if err != nil {
			return err
		}

		if taken {
			return fmt.Errorf("guid %s: %w", guid, ErrIDNotUnique)
		}

		dupe, err := s.dupeExists(ctx, tx, guid, local)
		if err != nil {
			return err
		}

		if dupe {
			return fmt.Errorf("guid %s: %w", guid, ErrDuplicate)
		}

		counter, err := counterBump(ctx, tx)
		if err != nil {
			return err
		}

		clock, err := vclock.Marshal(vclock.New(s.clientID, counter))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO rec_local (
				guid, record_data, vector_clock, last_writer_id,
				local_modified_ms, is_deleted, sync_status, schema_version
			) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			guid, recordData, clock, s.clientID,
			int64(ident.NowMs()), int(StatusNew), s.info.Version,
		)
		if err != nil {
			return fmt.Errorf("insert overlay %s: %w", guid, err)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}

	return guid, nil
}

// Get returns the visible record for guid in native form, or ok=false
// when no row is visible.
func (s *Store) Get(ctx context.Context, guid string) (schema.NativeRecord, bool, error) {
	if err := s.open(); err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}

	var recordData string

	err := s.db.QueryRowContext(ctx, visibleRecordSQL,
		sql.Named("guid", guid)).Scan(&recordData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", guid, err)
	}

	local, err := decodeRecord(recordData)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", guid, err)
	}

	return s.info.LocalToNative(guid, local), true, nil
}

// GetAll returns every visible record in native form.
func (s *Store) GetAll(ctx context.Context) ([]schema.NativeRecord, error) {
	if err := s.open(); err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT guid, record_data FROM rec_local WHERE is_deleted = 0
		UNION ALL
		SELECT guid, record_data FROM rec_mirror WHERE is_overridden = 0`)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}

	defer func() { _ = rows.Close() }()

	records := []schema.NativeRecord{}

	for rows.Next() {
		var guid, recordData string

		err = rows.Scan(&guid, &recordData)
		if err != nil {
			return nil, fmt.Errorf("get all: scan: %w", err)
		}

		local, err := decodeRecord(recordData)
		if err != nil {
			return nil, fmt.Errorf("get all: %s: %w", guid, err)
		}

		records = append(records, s.info.LocalToNative(guid, local))
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}

	return records, nil
}

// Exists reports whether a visible row exists for guid.
func (s *Store) Exists(ctx context.Context, guid string) (bool, error) {
	if err := s.open(); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}

	exists, err := recordVisible(ctx, s.db, guid)
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}

	return exists, nil
}

// Update replaces the visible record's content with native's. The GUID
// is taken from the record itself.
//
// When only a mirror row exists it is first copied into the overlay, so
// local edits never touch server state. Fails with [ErrNoSuchRecord]
// when the GUID is in neither table, and [ErrDuplicate] when the new
// content collides with another visible record's dedupe projection.
func (s *Store) Update(ctx context.Context, native schema.NativeRecord) error {
	if err := s.open(); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	guid, local, err := s.info.NativeToLocal(native, schema.ToLocalUpdate)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	recordData, err := encodeRecord(local)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		dupe, err := s.dupeExists(ctx, tx, guid, local)
		if err != nil {
			return err
		}

		if dupe {
			return fmt.Errorf("guid %s: %w", guid, ErrDuplicate)
		}

		err = s.ensureLocalOverlayExists(ctx, tx, guid)
		if err != nil {
			return err
		}

		err = markMirrorOverridden(ctx, tx, guid)
		if err != nil {
			return err
		}

		clock, err := s.bumpedVClock(ctx, tx, guid)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rec_local
			SET record_data       = ?,
			    vector_clock      = ?,
			    last_writer_id    = ?,
			    local_modified_ms = ?,
			    schema_version    = ?,
			    sync_status       = max(sync_status, ?)
			WHERE guid = ?`,
			recordData, clock, s.clientID,
			int64(ident.NowMs()), s.info.Version, int(StatusChanged), guid,
		)
		if err != nil {
			return fmt.Errorf("update overlay %s: %w", guid, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	return nil
}

// Delete removes the visible record for guid, leaving a tombstone
// overlay for the sync step. Returns false without writing anything
// when no record is visible.
func (s *Store) Delete(ctx context.Context, guid string) (bool, error) {
	if err := s.open(); err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}

	deleted := false

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		visible, err := recordVisible(ctx, tx, guid)
		if err != nil {
			return err
		}

		if !visible {
			return nil
		}

		clock, err := s.bumpedVClock(ctx, tx, guid)
		if err != nil {
			return err
		}

		nowMs := int64(ident.NowMs())

		// Tombstone an existing overlay in place.
		_, err = tx.ExecContext(ctx, `
			UPDATE rec_local
			SET record_data       = '{}',
			    vector_clock      = ?,
			    last_writer_id    = ?,
			    local_modified_ms = ?,
			    is_deleted        = 1,
			    sync_status       = ?
			WHERE guid = ?`,
			clock, s.clientID, nowMs, int(StatusChanged), guid,
		)
		if err != nil {
			return fmt.Errorf("tombstone overlay %s: %w", guid, err)
		}

		// Mirror-only records get a tombstone overlay synthesized from
		// the mirror row.
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO rec_local (
				guid, record_data, vector_clock, last_writer_id,
				local_modified_ms, is_deleted, sync_status, schema_version
			)
			SELECT guid, '{}', ?, ?, ?, 1, ?, ?
			FROM rec_mirror
			WHERE guid = ?`,
			clock, s.clientID, nowMs, int(StatusChanged), s.info.Version, guid,
		)
		if err != nil {
			return fmt.Errorf("tombstone from mirror %s: %w", guid, err)
		}

		err = markMirrorOverridden(ctx, tx, guid)
		if err != nil {
			return err
		}

		deleted = true

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}

	return deleted, nil
}

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// recordVisible reports whether a visible row exists for guid.
func recordVisible(ctx context.Context, q queryer, guid string) (bool, error) {
	var exists bool

	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM rec_local
			WHERE guid = :guid AND is_deleted = 0
			UNION ALL
			SELECT 1 FROM rec_mirror
			WHERE guid = :guid AND is_overridden = 0
		)`, sql.Named("guid", guid)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("visible %s: %w", guid, err)
	}

	return exists, nil
}

// identityTaken reports whether guid occupies a row in either table,
// regardless of deletion or override flags. Tombstones keep their
// identity slot until the sync step drops them.
func identityTaken(ctx context.Context, tx *sql.Tx, guid string) (bool, error) {
	var taken bool

	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM rec_local WHERE guid = :guid
			UNION ALL
			SELECT 1 FROM rec_mirror WHERE guid = :guid
		)`, sql.Named("guid", guid)).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("identity %s: %w", guid, err)
	}

	return taken, nil
}

// counterBump advances the global change counter and returns the fresh
// value. Runs under the same transaction as the write consuming it.
func counterBump(ctx context.Context, tx *sql.Tx) (int64, error) {
	counter, ok, err := metaGetInt(ctx, tx, metaChangeCounter)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, fmt.Errorf("change counter missing: %w", ErrCorrupt)
	}

	if counter < 0 {
		return 0, fmt.Errorf("negative change counter %d: %w", counter, ErrCorrupt)
	}

	// Hitting this bound takes ~9 quintillion writes; a counter here
	// means the stored value was damaged.
	if counter == math.MaxInt64 {
		return 0, fmt.Errorf("change counter overflow: %w", ErrCorrupt)
	}

	counter++

	err = metaPut(ctx, tx, metaChangeCounter, counter)
	if err != nil {
		return 0, err
	}

	return counter, nil
}

// getVClock loads the visible row's vector clock.
func getVClock(ctx context.Context, tx *sql.Tx, guid string) (vclock.VClock, error) {
	var raw string

	err := tx.QueryRowContext(ctx, `
		SELECT vector_clock FROM rec_local
		WHERE guid = :guid AND is_deleted = 0
		UNION ALL
		SELECT vector_clock FROM rec_mirror
		WHERE guid = :guid AND is_overridden = 0
		LIMIT 1`, sql.Named("guid", guid)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vclock %s: %w", guid, ErrNoSuchRecord)
	}

	if err != nil {
		return nil, fmt.Errorf("vclock %s: %w", guid, err)
	}

	clock, err := vclock.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("vclock %s: %w: %w", guid, ErrCorrupt, err)
	}

	return clock, nil
}

// bumpedVClock combines getVClock with counterBump and applies this
// client's new counter, returning the serialized clock.
func (s *Store) bumpedVClock(ctx context.Context, tx *sql.Tx, guid string) (string, error) {
	clock, err := getVClock(ctx, tx, guid)
	if err != nil {
		return "", err
	}

	counter, err := counterBump(ctx, tx)
	if err != nil {
		return "", err
	}

	next, err := clock.Apply(s.clientID, counter)
	if err != nil {
		return "", err
	}

	return vclock.Marshal(next)
}

// ensureLocalOverlayExists clones the mirror row into the overlay when
// no overlay row exists yet, so the subsequent update has a row to
// write. Fails with ErrNoSuchRecord when the GUID is in neither table.
func (s *Store) ensureLocalOverlayExists(ctx context.Context, tx *sql.Tx, guid string) error {
	var haveLocal bool

	err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM rec_local WHERE guid = ?)", guid).Scan(&haveLocal)
	if err != nil {
		return fmt.Errorf("overlay check %s: %w", guid, err)
	}

	if haveLocal {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO rec_local (
			guid, record_data, vector_clock, last_writer_id,
			local_modified_ms, is_deleted, sync_status, schema_version
		)
		SELECT guid, record_data, vector_clock, last_writer_id, 0, 0, ?, ?
		FROM rec_mirror
		WHERE guid = ?`,
		int(StatusSynced), s.info.Version, guid,
	)
	if err != nil {
		return fmt.Errorf("clone mirror %s: %w", guid, err)
	}

	changed, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clone mirror %s: %w", guid, err)
	}

	if changed == 0 {
		return fmt.Errorf("guid %s: %w", guid, ErrNoSuchRecord)
	}

	return nil
}

// markMirrorOverridden flags the mirror row, if any, as shadowed by the
// overlay. Must run in the same transaction as the overlay write.
func markMirrorOverridden(ctx context.Context, tx *sql.Tx, guid string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE rec_mirror SET is_overridden = 1 WHERE guid = ?", guid)
	if err != nil {
		return fmt.Errorf("override mirror %s: %w", guid, err)
	}

	return nil
}

// dupeExists scans the visible records for one whose dedupe-field
// projection matches candidate's, excluding the candidate's own GUID.
// Schemas without dedupe fields skip the scan entirely.
func (s *Store) dupeExists(ctx context.Context, tx *sql.Tx, guid string, candidate schema.LocalRecord) (bool, error) {
	candidateKey, enabled, err := s.info.DedupeKey(candidate)
	if err != nil {
		return false, err
	}

	if !enabled {
		return false, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT guid, record_data FROM rec_local WHERE is_deleted = 0
		UNION ALL
		SELECT guid, record_data FROM rec_mirror WHERE is_overridden = 0`)
	if err != nil {
		return false, fmt.Errorf("dedupe scan: %w", err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var otherGuid, recordData string

		err = rows.Scan(&otherGuid, &recordData)
		if err != nil {
			return false, fmt.Errorf("dedupe scan: %w", err)
		}

		if otherGuid == guid {
			continue
		}

		other, err := decodeRecord(recordData)
		if err != nil {
			return false, fmt.Errorf("dedupe scan %s: %w", otherGuid, err)
		}

		otherKey, _, err := s.info.DedupeKey(other)
		if err != nil {
			return false, err
		}

		if otherKey == candidateKey {
			return true, nil
		}
	}

	err = rows.Err()
	if err != nil {
		return false, fmt.Errorf("dedupe scan: %w", err)
	}

	return false, nil
}

// encodeRecord renders a local record as its stored JSON form.
func encodeRecord(local schema.LocalRecord) (string, error) {
	data, err := json.Marshal(local)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	return string(data), nil
}

// decodeRecord parses stored JSON back into a local record. Undecodable
// rows are corruption, not caller errors.
func decodeRecord(data string) (schema.LocalRecord, error) {
	var local schema.LocalRecord

	err := json.Unmarshal([]byte(data), &local)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w: %w", ErrCorrupt, err)
	}

	return local, nil
}
