// Package store journals terminal capture results to PostgreSQL. The
// database is optional; runs without one use NopStore.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL implementation of the result journal.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the journal tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS capture_results (
            id UUID PRIMARY KEY,
            run_id UUID NOT NULL,
            link TEXT NOT NULL,
            title TEXT,
            region TEXT NOT NULL,
            status TEXT NOT NULL,
            context TEXT,
            artifact_path TEXT,
            attempts INT NOT NULL,
            observed_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS capture_resources (
            result_id UUID NOT NULL,
            source_url TEXT NOT NULL,
            local_filename TEXT NOT NULL,
            referer TEXT
        );`,
	}
	for _, sql := range statements {
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// PersistResult appends one terminal result row, plus the mirrored-resource
// manifest when the result carries one.
func (s *Store) PersistResult(ctx context.Context, res *schemas.Result) error {
	sql := `
        INSERT INTO capture_results
            (id, run_id, link, title, region, status, context, artifact_path, attempts, observed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `
	resultID := uuid.NewString()
	_, err := s.pool.Exec(ctx, sql,
		resultID, res.RunID,
		res.Item.Link, res.Item.Title, res.Item.Region,
		string(res.Status), res.Context, res.ArtifactPath,
		res.Attempts, res.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert capture result: %w", err)
	}
	return s.PersistResources(ctx, resultID, res.Resources)
}

// PersistResources bulk-writes the mirrored-resource manifest of one
// result inside a transaction.
func (s *Store) PersistResources(ctx context.Context, resultID string, records []schemas.ResourceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		rows[i] = []interface{}{resultID, rec.SourceURL, rec.LocalFilename, rec.Referer}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"capture_resources"},
		[]string{"result_id", "source_url", "local_filename", "referer"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy resource records: %w", err)
	}
	if int(copyCount) != len(records) {
		return fmt.Errorf("mismatch in copied resource count: expected %d, got %d", len(records), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListResults returns a run's results in completion order.
func (s *Store) ListResults(ctx context.Context, runID string) ([]schemas.Result, error) {
	query := `
        SELECT run_id, link, title, region, status, context, artifact_path, attempts, observed_at
        FROM capture_results
        WHERE run_id = $1
        ORDER BY observed_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query capture results: %w", err)
	}
	defer rows.Close()

	var results []schemas.Result
	for rows.Next() {
		var res schemas.Result
		var status string

		err := rows.Scan(
			&res.RunID, &res.Item.Link, &res.Item.Title, &res.Item.Region,
			&status, &res.Context, &res.ArtifactPath,
			&res.Attempts, &res.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		res.Status = schemas.Status(status)
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return results, nil
}

// -- Nop Store --

// ErrNoStore is returned by NopStore reads; runs without a database keep no
// journal to read back.
var ErrNoStore = errors.New("no result store configured")

// NopStore satisfies the persistence interfaces when postgres is disabled.
type NopStore struct{}

func (NopStore) PersistResult(ctx context.Context, res *schemas.Result) error { return nil }

func (NopStore) ListResults(ctx context.Context, runID string) ([]schemas.Result, error) {
	return nil, ErrNoStore
}
