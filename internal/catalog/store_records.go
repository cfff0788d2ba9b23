package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tsumugi/internal/services"
)

const recordColumns = "id, character_id, status, attempts, protected, revision, fields_json, last_error, last_attempt_at, last_success_at, created_at, updated_at"

// EnsureRecord returns the enrichment record for a character, creating the
// initial pending row on first use.
func (s *Store) EnsureRecord(ctx context.Context, characterID int64) (*EnrichmentRecord, error) {
	ctx = ensureContext(ctx)
	record, err := s.GetRecord(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO enrichment_records (character_id, status, attempts, protected, revision, created_at, updated_at)
         VALUES (?, ?, 0, 0, 0, ?, ?)`,
		characterID,
		StatusPending,
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	record, err = s.GetRecord(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("record for character %d missing after insert", characterID)
	}
	return record, nil
}

// GetRecord fetches the enrichment record for a character.
func (s *Store) GetRecord(ctx context.Context, characterID int64) (*EnrichmentRecord, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordColumns+` FROM enrichment_records WHERE character_id = ?`,
		characterID,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// SaveRecord persists record changes guarded by an optimistic revision check.
// A concurrent writer bumps the revision first and this save fails with a
// conflict; callers reload and reapply their transition.
func (s *Store) SaveRecord(ctx context.Context, record *EnrichmentRecord) error {
	if record == nil {
		return errors.New("record is nil")
	}
	ctx = ensureContext(ctx)

	var fieldsJSON any
	if !record.Fields.IsEmpty() {
		encoded, err := json.Marshal(record.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		fieldsJSON = string(encoded)
	}
	now := time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE enrichment_records
         SET status = ?, attempts = ?, protected = ?, fields_json = ?, last_error = ?,
             last_attempt_at = ?, last_success_at = ?, updated_at = ?, revision = revision + 1
         WHERE id = ? AND revision = ?`,
		record.Status,
		record.Attempts,
		boolToInt(record.Protected),
		fieldsJSON,
		nullableString(record.LastError),
		nullableTime(record.LastAttemptAt),
		nullableTime(record.LastSuccessAt),
		now.Format(time.RFC3339Nano),
		record.ID,
		record.Revision,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "catalog", "save record",
			fmt.Sprintf("record %d revision %d modified concurrently", record.ID, record.Revision), nil)
	}
	record.Revision++
	record.UpdatedAt = now
	return nil
}

// SetProtected flips curator protection for a character's record, creating
// the record if needed.
func (s *Store) SetProtected(ctx context.Context, characterID int64, protected bool) (*EnrichmentRecord, error) {
	ctx = ensureContext(ctx)
	record, err := s.EnsureRecord(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if record.Protected == protected {
		return record, nil
	}

	if _, err := s.execWithRetry(
		ctx,
		`UPDATE enrichment_records
         SET protected = ?, updated_at = ?, revision = revision + 1
         WHERE character_id = ?`,
		boolToInt(protected),
		time.Now().UTC().Format(time.RFC3339Nano),
		characterID,
	); err != nil {
		return nil, fmt.Errorf("set protected: %w", err)
	}
	return s.GetRecord(ctx, characterID)
}

// Entry pairs a character with its enrichment record for presentation. The
// record is nil when enrichment has never touched the character.
type Entry struct {
	Character Character
	Record    *EnrichmentRecord
}

// List returns catalog entries, optionally filtered by record status.
// Characters without a record count as pending.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]Entry, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT c.id, c.name, c.series, c.description, c.created_at, c.updated_at,
        r.id, r.character_id, r.status, r.attempts, r.protected, r.revision, r.fields_json,
        r.last_error, r.last_attempt_at, r.last_success_at, r.created_at, r.updated_at
        FROM characters c
        LEFT JOIN enrichment_records r ON r.character_id = c.id`
	orderClause := ` ORDER BY c.series, c.name`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE COALESCE(r.status, 'pending') IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CharacterIDsByStatus returns character identifiers whose records match any
// of the provided statuses, in catalog order. Characters without a record
// count as pending.
func (s *Store) CharacterIDsByStatus(ctx context.Context, statuses ...Status) ([]int64, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	query := `SELECT c.id FROM characters c
        LEFT JOIN enrichment_records r ON r.character_id = c.id
        WHERE COALESCE(r.status, 'pending') IN (` + placeholders + `)
        ORDER BY c.series, c.name`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ids by status: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RetryFailed flips failed records back to pending so the next batch picks
// them up. Attempts and last errors are preserved; only the status moves.
func (s *Store) RetryFailed(ctx context.Context, characterIDs ...int64) (int64, error) {
	ctx = ensureContext(ctx)
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	if len(characterIDs) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE enrichment_records
             SET status = ?, updated_at = ?, revision = revision + 1
             WHERE status = ?`,
			StatusPending,
			timestamp,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed records: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(characterIDs))
	args := make([]any, 0, len(characterIDs)+3)
	args = append(args, StatusPending, timestamp, StatusFailed)
	for _, id := range characterIDs {
		args = append(args, id)
	}
	query := `UPDATE enrichment_records
        SET status = ?, updated_at = ?, revision = revision + 1
        WHERE status = ? AND character_id IN (` + placeholders + `)`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected records: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of records grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM enrichment_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("record stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Summarize aggregates catalog state for diagnostic output.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	ctx = ensureContext(ctx)
	summary := Summary{}

	characters, err := s.CountCharacters(ctx)
	if err != nil {
		return summary, err
	}
	summary.Characters = characters

	stats, err := s.Stats(ctx)
	if err != nil {
		return summary, err
	}
	for status, count := range stats {
		summary.Records += count
		switch status {
		case StatusPending:
			summary.Pending += count
		case StatusSuccess:
			summary.Succeeded += count
		case StatusFailed:
			summary.Failed += count
		case StatusSkipped:
			summary.Skipped += count
		}
	}

	var protected int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM enrichment_records WHERE protected = 1`).Scan(&protected); err != nil {
		return summary, fmt.Errorf("count protected: %w", err)
	}
	summary.Protected = protected
	return summary, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*EnrichmentRecord, error) {
	var (
		id            int64
		characterID   int64
		statusStr     string
		attempts      int
		protectedInt  sql.NullInt64
		revision      int64
		fieldsJSON    sql.NullString
		lastError     sql.NullString
		lastAttemptAt sql.NullString
		lastSuccessAt sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&characterID,
		&statusStr,
		&attempts,
		&protectedInt,
		&revision,
		&fieldsJSON,
		&lastError,
		&lastAttemptAt,
		&lastSuccessAt,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &EnrichmentRecord{
		ID:          id,
		CharacterID: characterID,
		Status:      Status(statusStr),
		Attempts:    attempts,
		Revision:    revision,
		LastError:   lastError.String,
	}
	if protectedInt.Valid {
		record.Protected = protectedInt.Int64 != 0
	}
	if fieldsJSON.Valid && fieldsJSON.String != "" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &record.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields for record %d: %w", id, err)
		}
	}
	if lastAttemptAt.Valid {
		if when, err := parseTimeString(lastAttemptAt.String); err == nil {
			record.LastAttemptAt = &when
		}
	}
	if lastSuccessAt.Valid {
		if when, err := parseTimeString(lastSuccessAt.String); err == nil {
			record.LastSuccessAt = &when
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry Entry

		cID          int64
		cName        string
		cSeries      sql.NullString
		cDescription sql.NullString
		cCreatedRaw  sql.NullString
		cUpdatedRaw  sql.NullString

		rID          sql.NullInt64
		rCharacterID sql.NullInt64
		rStatus      sql.NullString
		rAttempts    sql.NullInt64
		rProtected   sql.NullInt64
		rRevision    sql.NullInt64
		rFieldsJSON  sql.NullString
		rLastError   sql.NullString
		rLastAttempt sql.NullString
		rLastSuccess sql.NullString
		rCreatedRaw  sql.NullString
		rUpdatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&cID, &cName, &cSeries, &cDescription, &cCreatedRaw, &cUpdatedRaw,
		&rID, &rCharacterID, &rStatus, &rAttempts, &rProtected, &rRevision, &rFieldsJSON,
		&rLastError, &rLastAttempt, &rLastSuccess, &rCreatedRaw, &rUpdatedRaw,
	); err != nil {
		return entry, err
	}

	entry.Character = Character{
		ID:          cID,
		Name:        cName,
		Series:      cSeries.String,
		Description: cDescription.String,
	}
	if created, err := parseTimeString(cCreatedRaw.String); err == nil {
		entry.Character.CreatedAt = created
	}
	if updated, err := parseTimeString(cUpdatedRaw.String); err == nil {
		entry.Character.UpdatedAt = updated
	}

	if rID.Valid {
		record := &EnrichmentRecord{
			ID:          rID.Int64,
			CharacterID: rCharacterID.Int64,
			Status:      Status(rStatus.String),
			Attempts:    int(rAttempts.Int64),
			Protected:   rProtected.Int64 != 0,
			Revision:    rRevision.Int64,
			LastError:   rLastError.String,
		}
		if rFieldsJSON.Valid && rFieldsJSON.String != "" {
			if err := json.Unmarshal([]byte(rFieldsJSON.String), &record.Fields); err != nil {
				return entry, fmt.Errorf("unmarshal fields for record %d: %w", rID.Int64, err)
			}
		}
		if rLastAttempt.Valid {
			if when, err := parseTimeString(rLastAttempt.String); err == nil {
				record.LastAttemptAt = &when
			}
		}
		if rLastSuccess.Valid {
			if when, err := parseTimeString(rLastSuccess.String); err == nil {
				record.LastSuccessAt = &when
			}
		}
		if created, err := parseTimeString(rCreatedRaw.String); err == nil {
			record.CreatedAt = created
		}
		if updated, err := parseTimeString(rUpdatedRaw.String); err == nil {
			record.UpdatedAt = updated
		}
		entry.Record = record
	}
	return entry, nil
}
