// Package store persists interview configurations and feedback records
// in Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voxprep/voxprep/pkg/interview"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound marks a lookup that matched no row.
var ErrNotFound = errors.New("store: not found")

// Store is the Postgres-backed persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres, runs pending migrations, and returns the
// store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// migrate applies pending schema migrations. Goose drives a database/sql
// handle, so migrations go through the stdlib pgx adapter rather than
// the pool.
func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateInterview inserts a new interview configuration.
func (s *Store) CreateInterview(ctx context.Context, cfg *interview.Config) error {
	questions, err := json.Marshal(cfg.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO interviews (id, job_position, job_description, duration, type, questions, candidate_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cfg.ID, cfg.JobPosition, cfg.JobDescription, cfg.Duration, cfg.Type,
		questions, cfg.CandidateName, cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert interview: %w", err)
	}
	return nil
}

// GetInterview loads one interview by id.
func (s *Store) GetInterview(ctx context.Context, id string) (*interview.Config, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_position, job_description, duration, type, questions, candidate_name, created_at
		FROM interviews WHERE id = $1`, id)
	return scanInterview(row)
}

// ListInterviews returns interviews newest first, up to limit (<= 0
// selects the default page size).
func (s *Store) ListInterviews(ctx context.Context, limit int) ([]*interview.Config, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_position, job_description, duration, type, questions, candidate_name, created_at
		FROM interviews ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer rows.Close()

	var out []*interview.Config
	for rows.Next() {
		cfg, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(row rowScanner) (*interview.Config, error) {
	var cfg interview.Config
	var questions []byte
	err := row.Scan(&cfg.ID, &cfg.JobPosition, &cfg.JobDescription, &cfg.Duration,
		&cfg.Type, &questions, &cfg.CandidateName, &cfg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan interview: %w", err)
	}
	if err := json.Unmarshal(questions, &cfg.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return &cfg, nil
}

// SaveFeedback upserts the feedback record for one (interview,
// candidate) pair. A rerun for the same pair overwrites the old record.
func (s *Store) SaveFeedback(ctx context.Context, rec *interview.FeedbackRecord) error {
	ratings, err := json.Marshal(rec.Ratings)
	if err != nil {
		return fmt.Errorf("encode ratings: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO feedback (interview_id, candidate_email, candidate_name, ratings, summary, recommendation, recommendation_msg, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (interview_id, candidate_email) DO UPDATE SET
			candidate_name = EXCLUDED.candidate_name,
			ratings = EXCLUDED.ratings,
			summary = EXCLUDED.summary,
			recommendation = EXCLUDED.recommendation,
			recommendation_msg = EXCLUDED.recommendation_msg,
			created_at = EXCLUDED.created_at`,
		rec.InterviewID, rec.CandidateEmail, rec.CandidateName, ratings,
		rec.Summary, rec.Recommendation, rec.RecommendationMsg, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert feedback: %w", err)
	}
	return nil
}

// GetFeedback loads the feedback record for one (interview, candidate)
// pair.
func (s *Store) GetFeedback(ctx context.Context, interviewID, candidateEmail string) (*interview.FeedbackRecord, error) {
	var rec interview.FeedbackRecord
	var ratings []byte
	err := s.pool.QueryRow(ctx, `
		SELECT interview_id, candidate_email, candidate_name, ratings, summary, recommendation, recommendation_msg, created_at
		FROM feedback WHERE interview_id = $1 AND candidate_email = $2`,
		interviewID, candidateEmail).
		Scan(&rec.InterviewID, &rec.CandidateEmail, &rec.CandidateName, &ratings,
			&rec.Summary, &rec.Recommendation, &rec.RecommendationMsg, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feedback: %w", err)
	}
	if err := json.Unmarshal(ratings, &rec.Ratings); err != nil {
		return nil, fmt.Errorf("decode ratings: %w", err)
	}
	return &rec, nil
}
