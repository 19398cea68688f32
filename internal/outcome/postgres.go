package outcome

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the interview_outcomes table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS interview_outcomes (
    view_id            TEXT PRIMARY KEY,
    session_id         TEXT NOT NULL DEFAULT '',
    job_description    TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL,
    strikes            INTEGER NOT NULL DEFAULT 0,
    questions_answered INTEGER NOT NULL DEFAULT 0,
    last_reason        TEXT NOT NULL DEFAULT '',
    offline            BOOLEAN NOT NULL DEFAULT FALSE,
    started_at         TIMESTAMPTZ NOT NULL,
    ended_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interview_outcomes_ended ON interview_outcomes(ended_at DESC);
CREATE INDEX IF NOT EXISTS idx_interview_outcomes_session ON interview_outcomes(session_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore on db. The caller is responsible
// for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPool connects a pool to dsn and verifies it with a ping.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("outcome: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("outcome: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("outcome: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("outcome: migrate: %w", err)
	}
	return nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, o Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	const query = `
		INSERT INTO interview_outcomes (
			view_id, session_id, job_description, status, strikes,
			questions_answered, last_reason, offline, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (view_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			job_description = EXCLUDED.job_description,
			status = EXCLUDED.status,
			strikes = EXCLUDED.strikes,
			questions_answered = EXCLUDED.questions_answered,
			last_reason = EXCLUDED.last_reason,
			offline = EXCLUDED.offline,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at`

	_, err := s.db.Exec(ctx, query,
		o.ViewID, o.SessionID, o.JobDescription, o.Status, o.Strikes,
		o.QuestionsAnswered, o.LastReason, o.Offline, o.StartedAt, o.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("outcome: save %q: %w", o.ViewID, err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Outcome, error) {
	query := `
		SELECT view_id, session_id, job_description, status, strikes,
		       questions_answered, last_reason, offline, started_at, ended_at
		FROM interview_outcomes
		ORDER BY ended_at DESC, view_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outcome: recent: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(
			&o.ViewID, &o.SessionID, &o.JobDescription, &o.Status, &o.Strikes,
			&o.QuestionsAnswered, &o.LastReason, &o.Offline, &o.StartedAt, &o.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("outcome: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcome: rows: %w", err)
	}
	return out, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("outcome: ping: %w", err)
	}
	return nil
}
