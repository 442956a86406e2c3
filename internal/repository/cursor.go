package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CursorRepository persists the deposit stream position. The table holds
// a single row; an absent row means ingestion starts from the stream
// origin.
type CursorRepository struct {
	db *sql.DB
}

func NewCursorRepository(db *sql.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get returns the last committed cursor, or "" if none has been stored.
func (r *CursorRepository) Get(ctx context.Context) (string, error) {
	var cursor string
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor FROM deposit_cursor WHERE singleton`,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("Get: %w", err)
	}
	return cursor, nil
}

// Advance moves the cursor forward inside the caller's transaction so it
// commits atomically with the credit it covers.
func (r *CursorRepository) Advance(ctx context.Context, tx *sql.Tx, cursor string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO deposit_cursor (singleton, cursor, updated_at)
		VALUES (true, $1, now())
		ON CONFLICT (singleton) DO UPDATE SET cursor = $1, updated_at = now()`,
		cursor,
	)
	if err != nil {
		return fmt.Errorf("Advance: %w", err)
	}
	return nil
}
