package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/shipit/internal/domain/model"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// RunRepo is the SQLite implementation of the RunStore port interface.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Create inserts a new run. Stages are stored separately with AddStage.
func (r *RunRepo) Create(ctx context.Context, run model.Run) error {
	const query = `
		INSERT INTO runs (
			id, pr_number, command, environment, deployment_id, comment_id,
			comment_url, comment_body, state, message, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		run.ID, run.PRNumber, run.Command, run.Environment, run.DeploymentID, run.CommentID,
		run.CommentURL, run.CommentBody, string(run.State), run.Message,
		formatTime(run.StartedAt), nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	return nil
}

// Update overwrites the mutable fields of a run.
func (r *RunRepo) Update(ctx context.Context, run model.Run) error {
	const query = `
		UPDATE runs SET
			environment = ?,
			deployment_id = ?,
			comment_id = ?,
			comment_url = ?,
			comment_body = ?,
			state = ?,
			message = ?,
			finished_at = ?
		WHERE id = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		run.Environment, run.DeploymentID, run.CommentID, run.CommentURL, run.CommentBody,
		string(run.State), run.Message, nullTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrNotFound)
	}

	return nil
}

// AddStage records the outcome of one stage of a run.
func (r *RunRepo) AddStage(ctx context.Context, stage model.StageResult) error {
	const query = `
		INSERT INTO stage_results (run_id, stage, outcome, output, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		stage.RunID, stage.Stage, string(stage.Outcome), stage.Output,
		stage.Duration.Milliseconds(), formatTime(stage.Started),
	)
	if err != nil {
		return fmt.Errorf("insert stage %s of run %s: %w", stage.Stage, stage.RunID, err)
	}

	return nil
}

// Get returns a run with its stages in execution order.
func (r *RunRepo) Get(ctx context.Context, id string) (*model.Run, error) {
	const query = `
		SELECT id, pr_number, command, environment, deployment_id, comment_id,
		       comment_url, comment_body, state, message, started_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	run.Stages, err = r.stages(ctx, id)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRecent returns up to limit runs, newest first, without stages.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]model.Run, error) {
	const query = `
		SELECT id, pr_number, command, environment, deployment_id, comment_id,
		       comment_url, comment_body, state, message, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`

	return r.queryRuns(ctx, query, limit)
}

// ListByPR returns every run for a pull request, newest first, without stages.
func (r *RunRepo) ListByPR(ctx context.Context, prNumber int) ([]model.Run, error) {
	const query = `
		SELECT id, pr_number, command, environment, deployment_id, comment_id,
		       comment_url, comment_body, state, message, started_at, finished_at
		FROM runs
		WHERE pr_number = ?
		ORDER BY started_at DESC, rowid DESC
	`

	return r.queryRuns(ctx, query, prNumber)
}

func (r *RunRepo) stages(ctx context.Context, runID string) ([]model.StageResult, error) {
	const query = `
		SELECT run_id, stage, outcome, output, duration_ms, started_at
		FROM stage_results
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query stages of run %s: %w", runID, err)
	}
	defer rows.Close()

	var stages []model.StageResult
	for rows.Next() {
		var s model.StageResult
		var outcome, started string
		var durationMS int64
		if err := rows.Scan(&s.RunID, &s.Stage, &outcome, &s.Output, &durationMS, &started); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		s.Outcome = model.StageOutcome(outcome)
		s.Duration = time.Duration(durationMS) * time.Millisecond
		if s.Started, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse stage started_at: %w", err)
		}
		stages = append(stages, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}

	return stages, nil
}

func (r *RunRepo) queryRuns(ctx context.Context, query string, args ...any) ([]model.Run, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.Run, error) {
	var run model.Run
	var state, startedAt string
	var finishedAt sql.NullString

	err := s.Scan(
		&run.ID, &run.PRNumber, &run.Command, &run.Environment, &run.DeploymentID, &run.CommentID,
		&run.CommentURL, &run.CommentBody, &state, &run.Message, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.State = model.RunState(state)

	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}

	if finishedAt.Valid {
		run.FinishedAt, err = parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
	}

	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// parseTime tries the journal layout, then other SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
