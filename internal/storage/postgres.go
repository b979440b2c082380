package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bdougie/framefx/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage manages job history in PostgreSQL
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage connection
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const jobColumns = `id, source, destination, effects, workers, status, phase,
        progress, error, published_url, created_at, updated_at, finished_at`

// SaveJob inserts the job or updates the stored row
func (s *PostgresStorage) SaveJob(ctx context.Context, job *models.JobRecord) error {
	effects, err := json.Marshal(job.Effects)
	if err != nil {
		return fmt.Errorf("failed to encode effects: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO save_jobs (`+jobColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            phase = EXCLUDED.phase,
            progress = EXCLUDED.progress,
            error = EXCLUDED.error,
            published_url = EXCLUDED.published_url,
            updated_at = EXCLUDED.updated_at,
            finished_at = EXCLUDED.finished_at`,
		job.ID, job.Source, job.Destination, effects, job.Workers, string(job.Status), job.Phase,
		job.Progress, job.Error, job.PublishedURL, job.CreatedAt, job.UpdatedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the stored row for id
func (s *PostgresStorage) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM save_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns up to limit rows, newest first
func (s *PostgresStorage) ListJobs(ctx context.Context, limit int) ([]models.JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM save_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*models.JobRecord, error) {
	var job models.JobRecord
	var status string
	var effects []byte
	if err := row.Scan(&job.ID, &job.Source, &job.Destination, &effects, &job.Workers, &status,
		&job.Phase, &job.Progress, &job.Error, &job.PublishedURL, &job.CreatedAt, &job.UpdatedAt,
		&job.FinishedAt); err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	if err := json.Unmarshal(effects, &job.Effects); err != nil {
		return nil, fmt.Errorf("failed to decode effects: %w", err)
	}
	return &job, nil
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, connString string) error {
	// Connect to PostgreSQL
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	// Create tables
	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS save_jobs (
            id UUID PRIMARY KEY,
            source TEXT NOT NULL,
            destination TEXT NOT NULL,
            effects JSONB NOT NULL DEFAULT '[]',
            workers INTEGER NOT NULL,
            status VARCHAR(16) NOT NULL,
            phase VARCHAR(32) NOT NULL DEFAULT '',
            progress DOUBLE PRECISION NOT NULL DEFAULT 0,
            error TEXT NOT NULL DEFAULT '',
            published_url TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	// Create indexes
	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_save_jobs_created_at ON save_jobs(created_at DESC);
        CREATE INDEX IF NOT EXISTS idx_save_jobs_status ON save_jobs(status);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
