package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tsumugi/internal/services"
)

const characterColumns = "id, name, series, description, created_at, updated_at"

var titleCaser = cases.Title(language.Und)

// NormalizeCharacterName collapses whitespace and fixes single-case names
// (ALL CAPS or all lower) into title case. Mixed-case names are preserved so
// spellings like "McCoy" survive import.
func NormalizeCharacterName(name string) string {
	cleaned := strings.Join(strings.Fields(name), " ")
	if cleaned == "" {
		return ""
	}
	if cleaned == strings.ToUpper(cleaned) || cleaned == strings.ToLower(cleaned) {
		return titleCaser.String(strings.ToLower(cleaned))
	}
	return cleaned
}

func isSQLiteConstraint(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 19 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// AddCharacter inserts a new character and returns the stored row.
func (s *Store) AddCharacter(ctx context.Context, name, series, description string) (*Character, error) {
	ctx = ensureContext(ctx)
	name = NormalizeCharacterName(name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "catalog", "add character", "name required", nil)
	}
	series = strings.TrimSpace(series)
	description = strings.TrimSpace(description)
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO characters (name, series, description, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		name,
		series,
		nullableString(description),
		timestamp,
		timestamp,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return nil, services.Wrap(services.ErrConflict, "catalog", "add character",
				fmt.Sprintf("%q (%s) already exists", name, series), nil)
		}
		return nil, fmt.Errorf("insert character: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetCharacter(ctx, id)
}

// GetCharacter fetches a character by identifier.
func (s *Store) GetCharacter(ctx context.Context, id int64) (*Character, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = ?`, id)
	character, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	return character, nil
}

// FindCharacter returns the character matching a normalized name and series.
func (s *Store) FindCharacter(ctx context.Context, name, series string) (*Character, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+characterColumns+` FROM characters WHERE name = ? AND series = ? LIMIT 1`,
		NormalizeCharacterName(name),
		strings.TrimSpace(series),
	)
	character, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find character: %w", err)
	}
	return character, nil
}

// ListCharacters returns all characters ordered by series then name.
func (s *Store) ListCharacters(ctx context.Context) ([]*Character, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+characterColumns+` FROM characters ORDER BY series, name`)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var characters []*Character
	for rows.Next() {
		character, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		characters = append(characters, character)
	}
	return characters, rows.Err()
}

// CountCharacters returns the total number of catalog entries.
func (s *Store) CountCharacters(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM characters`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count characters: %w", err)
	}
	return count, nil
}

// RemoveCharacter deletes a character and its enrichment record.
func (s *Store) RemoveCharacter(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM characters WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete character: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ImportCharacters inserts the provided entries, skipping rows that are
// unusable or already present. Returns the number added and skipped.
func (s *Store) ImportCharacters(ctx context.Context, entries []CharacterImport) (int, int, error) {
	ctx = ensureContext(ctx)
	if len(entries) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin import tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	added, skipped := 0, 0
	for _, entry := range entries {
		name := NormalizeCharacterName(entry.Name)
		if name == "" {
			skipped++
			continue
		}
		res, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO characters (name, series, description, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?)`,
			name,
			strings.TrimSpace(entry.Series),
			nullableString(strings.TrimSpace(entry.Description)),
			timestamp,
			timestamp,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("import character %q: %w", name, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			added++
		} else {
			skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit import: %w", err)
	}
	return added, skipped, nil
}

func scanCharacter(scanner interface{ Scan(dest ...any) error }) (*Character, error) {
	var (
		id          int64
		name        string
		series      sql.NullString
		description sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(&id, &name, &series, &description, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	character := &Character{
		ID:          id,
		Name:        name,
		Series:      series.String,
		Description: description.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		character.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		character.UpdatedAt = updated
	}
	return character, nil
}
