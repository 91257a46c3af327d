package db

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/entropy-scorer/internal/logging"
	"github.com/rawblock/entropy-scorer/internal/persist"
)

// schemaSQL is compiled into the binary at build time so schema init works
// from any working directory.
//
//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned by LoadRun for an unknown run id.
var ErrRunNotFound = errors.New("evaluation run not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	logging.L().Infof("[Store] connected to PostgreSQL run archive")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	logging.L().Infof("[Store] evaluation schema initialized")
	return nil
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID          string    `json:"runId"`
	TotalEntities  int       `json:"totalEntities"`
	CandidateCount int       `json:"candidateLabels"`
	OverallEntropy float64   `json:"overallEntropy"`
	Quality        float64   `json:"quality"`
	ARI            float64   `json:"ari"`
	VI             float64   `json:"vi"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SaveRun archives a snapshot. The run row and its per-cluster rows are
// written in one transaction; re-archiving a run replaces it.
func (s *PostgresStore) SaveRun(ctx context.Context, snap *persist.Snapshot) error {
	var state bytes.Buffer
	if err := persist.Encode(&state, snap); err != nil {
		return fmt.Errorf("encoding run state: %w", err)
	}
	res := snap.Result

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertRunSQL := `
		INSERT INTO evaluation_runs
			(run_id, format_version, total_entities, candidate_count, overall_entropy, quality, ari, vi, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			format_version = EXCLUDED.format_version,
			total_entities = EXCLUDED.total_entities,
			candidate_count = EXCLUDED.candidate_count,
			overall_entropy = EXCLUDED.overall_entropy,
			quality = EXCLUDED.quality,
			ari = EXCLUDED.ari,
			vi = EXCLUDED.vi,
			state = EXCLUDED.state,
			archived_at = NOW();
	`
	_, err = tx.Exec(ctx, insertRunSQL,
		snap.RunID,
		persist.FormatVersion,
		res.Total(),
		res.CandidateLabelCount(),
		res.OverallEntropy(),
		res.Quality(),
		res.ARI(),
		res.VI(),
		state.String(),
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation_runs: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM cluster_entropy WHERE run_id = $1`, snap.RunID); err != nil {
		return fmt.Errorf("failed to clear cluster_entropy: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range res.Clusters() {
		batch.Queue(`INSERT INTO cluster_entropy (run_id, cluster_label, cluster_size, entropy) VALUES ($1, $2, $3, $4)`,
			snap.RunID, string(c.Label), c.Size, c.Entropy)
	}
	if batch.Len() > 0 {
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert cluster_entropy: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LoadRun reads an archived snapshot back. The stored state goes through
// the same validation as a file load, so a damaged row surfaces as
// *persist.CorruptStateError.
func (s *PostgresStore) LoadRun(ctx context.Context, runID string) (*persist.Snapshot, error) {
	var state []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM evaluation_runs WHERE run_id = $1`, runID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return persist.Decode(bytes.NewReader(state))
}

// ListRuns pages through archived runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, page int, limit int) ([]RunSummary, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM evaluation_runs`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT run_id::text, total_entities, candidate_count, overall_entropy, quality, ari, vi, created_at
		FROM evaluation_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := make([]RunSummary, 0)
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.TotalEntities, &r.CandidateCount, &r.OverallEntropy,
			&r.Quality, &r.ARI, &r.VI, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return runs, totalCount, nil
}

// DeleteRun removes a run and its cluster rows.
func (s *PostgresStore) DeleteRun(ctx context.Context, runID string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM evaluation_runs WHERE run_id = $1`, runID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}
