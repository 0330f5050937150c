package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection for the confirmation journal.
type Store struct {
	conn *pgx.Conn
}

// Confirmation is one attendance submission accepted by the backend.
type Confirmation struct {
	ID          uuid.UUID
	SubjectID   string
	Present     []string
	Absent      []string
	ConfirmedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the journal table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS confirmations (
			id UUID PRIMARY KEY,
			subject_id TEXT NOT NULL,
			present_students TEXT[] NOT NULL,
			absent_students TEXT[] NOT NULL,
			confirmed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS confirmations_subject_idx ON confirmations (subject_id, confirmed_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RecordConfirmation stores an accepted submission and returns its generated ID.
func (s *Store) RecordConfirmation(ctx context.Context, subjectID string, present, absent []string) (uuid.UUID, error) {
	if subjectID == "" {
		return uuid.Nil, errors.New("subject id is required")
	}
	if present == nil {
		present = []string{}
	}
	if absent == nil {
		absent = []string{}
	}

	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO confirmations (id, subject_id, present_students, absent_students)
		VALUES ($1, $2, $3, $4)
	`, id, subjectID, present, absent)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ListConfirmations returns the newest submissions first. An empty subjectID lists every subject.
func (s *Store) ListConfirmations(ctx context.Context, subjectID string, limit int) ([]Confirmation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, subject_id, present_students, absent_students, confirmed_at
		FROM confirmations
		WHERE $1 = '' OR subject_id = $1
		ORDER BY confirmed_at DESC
		LIMIT $2
	`, subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Confirmation
	for rows.Next() {
		var c Confirmation
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.Present, &c.Absent, &c.ConfirmedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS confirmations CASCADE;
	`)
	return err
}
