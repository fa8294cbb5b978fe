package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Seal1026/roosterProj/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const promptColumns = `id, email, prompt, frequency, start_time, end_time, created_at, last_processed, is_active`

type PostgresPromptRepo struct {
	db *sql.DB
}

func NewPostgresPromptRepo(db *sql.DB) *PostgresPromptRepo {
	return &PostgresPromptRepo{db: db}
}

// OpenPostgres opens a pgx-backed *sql.DB and verifies the connection.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (r *PostgresPromptRepo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schemaSQL)
	return err
}

func (r *PostgresPromptRepo) FetchAll(ctx context.Context) ([]model.ScheduledPrompt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompts
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledPrompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresPromptRepo) Get(ctx context.Context, id string) (model.ScheduledPrompt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompts
		WHERE id = $1
	`, id)
	return scanOne(row)
}

// AdvanceLastProcessed moves last_processed forward to at. An older timestamp
// never overwrites a newer one.
func (r *PostgresPromptRepo) AdvanceLastProcessed(ctx context.Context, id string, at time.Time) (model.ScheduledPrompt, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE prompts
		SET last_processed = GREATEST(COALESCE(last_processed, $2), $2)
		WHERE id = $1
		RETURNING `+promptColumns+`
	`, id, at.UTC())
	return scanOne(row)
}

func (r *PostgresPromptRepo) SetActive(ctx context.Context, id string, active bool) (model.ScheduledPrompt, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE prompts
		SET is_active = $2
		WHERE id = $1
		RETURNING `+promptColumns+`
	`, id, active)
	return scanOne(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (model.ScheduledPrompt, error) {
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduledPrompt{}, ErrNotFound
	}
	return p, err
}

func scanPrompt(s scanner) (model.ScheduledPrompt, error) {
	var p model.ScheduledPrompt
	var freq string
	var last sql.NullTime

	if err := s.Scan(
		&p.ID,
		&p.Destination,
		&p.PromptText,
		&freq,
		&p.WindowStart,
		&p.WindowEnd,
		&p.CreatedAt,
		&last,
		&p.IsActive,
	); err != nil {
		return model.ScheduledPrompt{}, err
	}

	p.Frequency = model.Frequency(freq)
	if last.Valid {
		t := last.Time
		p.LastProcessed = &t
	}
	return p, nil
}
