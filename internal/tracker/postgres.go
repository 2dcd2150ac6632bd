package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nucleus/fluxion/internal/core"
	"github.com/nucleus/fluxion/internal/database"
)

// PostgresStore keeps the run log in the execution_runs table.
type PostgresStore struct {
	client *database.Client
}

// NewPostgresStore creates a store over client.
func NewPostgresStore(client *database.Client) *PostgresStore {
	return &PostgresStore{client: client}
}

const runColumns = `id, kind, location_id, location_name, requested_from, requested_to, mode, state,
	extracted_count, loaded_count, rejected_count, error_kind, error_message,
	retry_count, caused_by, created_at, started_at, finished_at`

// =============================================================================
// RUN QUERIES
// =============================================================================

// Create inserts a new run.
func (s *PostgresStore) Create(ctx context.Context, run core.ExecutionRun) error {
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO execution_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, runArgs(run)...)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get retrieves a run by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (core.ExecutionRun, error) {
	row := s.client.DB().QueryRowContext(ctx, `SELECT `+runColumns+` FROM execution_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ExecutionRun{}, ErrNotFound
	}
	if err != nil {
		return core.ExecutionRun{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// CompareAndSwap updates the mutable columns when the stored state is from.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, from core.RunState, run core.ExecutionRun) (bool, error) {
	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE execution_runs SET
			state = $3,
			extracted_count = $4,
			loaded_count = $5,
			rejected_count = $6,
			error_kind = $7,
			error_message = $8,
			started_at = $9,
			finished_at = $10
		WHERE id = $1 AND state = $2
	`,
		run.ID, string(from), string(run.State),
		run.ExtractedCount, run.LoadedCount, run.RejectedCount,
		database.ToNullString(string(run.ErrorKind)), database.ToNullString(run.ErrorMessage),
		database.ToNullTime(run.StartedAt), database.ToNullTime(run.FinishedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update run: %w", err)
	}
	return n == 1, nil
}

// List returns runs matching f, newest first.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]core.ExecutionRun, error) {
	var (
		where []string
		args  []any
	)
	if f.LocationID != "" {
		args = append(args, f.LocationID)
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if f.State != "" {
		args = append(args, string(f.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM execution_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []core.ExecutionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (core.ExecutionRun, error) {
	var (
		run                   core.ExecutionRun
		kind, mode, state     string
		errKind, errMsg       sql.NullString
		causedBy              sql.NullString
		startedAt, finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &kind, &run.LocationID, &run.LocationName, &run.Requested.From, &run.Requested.To, &mode, &state,
		&run.ExtractedCount, &run.LoadedCount, &run.RejectedCount, &errKind, &errMsg,
		&run.RetryCount, &causedBy, &run.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return core.ExecutionRun{}, err
	}
	run.Kind = core.DataKind(kind)
	run.Mode = core.Mode(mode)
	run.State = core.RunState(state)
	run.ErrorKind = core.ErrorKind(errKind.String)
	run.ErrorMessage = errMsg.String
	run.CausedBy = causedBy.String
	run.StartedAt = database.FromNullTime(startedAt)
	run.FinishedAt = database.FromNullTime(finishedAt)
	return run, nil
}

func runArgs(run core.ExecutionRun) []any {
	return []any{
		run.ID, string(run.Kind), run.LocationID, run.LocationName, run.Requested.From, run.Requested.To,
		string(run.Mode), string(run.State),
		run.ExtractedCount, run.LoadedCount, run.RejectedCount,
		database.ToNullString(string(run.ErrorKind)), database.ToNullString(run.ErrorMessage),
		run.RetryCount, database.ToNullString(run.CausedBy),
		run.CreatedAt, database.ToNullTime(run.StartedAt), database.ToNullTime(run.FinishedAt),
	}
}
