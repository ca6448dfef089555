package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// RunRepo — журнал runs в PostgreSQL.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	WorkflowID string
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

// SaveRun создаёт run или обновляет его статус и время.
// Результаты шагов пишутся отдельно через SaveResult.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.Run) error {
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	query := `
		INSERT INTO runs (id, workflow_id, workflow_name, status, inputs, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.WorkflowID,
		run.WorkflowName,
		string(run.Status),
		inputsJSON,
		run.StartedAt,
		run.FinishedAt,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// SaveResult записывает результат шага. Повторная запись возвращает ErrAlreadyExists.
func (r *RunRepo) SaveResult(ctx context.Context, runID uuid.UUID, res *domain.StepResult) error {
	outputJSON, err := json.Marshal(res.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	logsJSON, err := json.Marshal(res.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}

	query := `
		INSERT INTO step_results (run_id, step_id, status, output, error, error_kind, reason,
		                          attempts, logs, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, step_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query,
		runID,
		res.StepID,
		string(res.Status),
		outputJSON,
		nullString(res.Error),
		nullString(res.ErrorKind),
		nullString(res.Reason),
		res.Attempts,
		logsJSON,
		nullTime(res.StartedAt),
		nullTime(res.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert step result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step %s: %w", res.StepID, ErrAlreadyExists)
	}
	return nil
}

// GetRun возвращает run вместе с результатами шагов.
func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, workflow_id, workflow_name, status, inputs, started_at, finished_at, created_at
		FROM runs
		WHERE id = $1
	`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	results, err := r.listResults(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Results = results
	return run, nil
}

// ListRuns возвращает runs без результатов шагов, новые первыми.
func (r *RunRepo) ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, workflow_id, workflow_name, status, inputs, started_at, finished_at, created_at
		FROM runs
		WHERE ($1::text IS NULL OR workflow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.WorkflowID),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *RunRepo) listResults(ctx context.Context, runID uuid.UUID) (map[string]*domain.StepResult, error) {
	query := `
		SELECT step_id, status, output, error, error_kind, reason, attempts, logs, started_at, finished_at
		FROM step_results
		WHERE run_id = $1
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	defer rows.Close()

	results := make(map[string]*domain.StepResult)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results[res.StepID] = res
	}
	return results, rows.Err()
}

// --- Helpers ---

// scanRun сканирует одну строку в Run. pgx.Rows тоже реализует pgx.Row.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var status string
	var inputsJSON []byte

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.WorkflowName,
		&status,
		&inputsJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = domain.RunStatus(status)

	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &run.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	run.Results = make(map[string]*domain.StepResult)
	return &run, nil
}

func scanResult(rows pgx.Rows) (*domain.StepResult, error) {
	var res domain.StepResult
	var status string
	var outputJSON, logsJSON []byte
	var errMsg, errKind, reason *string
	var startedAt, finishedAt *time.Time

	err := rows.Scan(
		&res.StepID,
		&status,
		&outputJSON,
		&errMsg,
		&errKind,
		&reason,
		&res.Attempts,
		&logsJSON,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan step result: %w", err)
	}
	res.Status = domain.StepStatus(status)

	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &res.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if logsJSON != nil {
		if err := json.Unmarshal(logsJSON, &res.Logs); err != nil {
			return nil, fmt.Errorf("unmarshal logs: %w", err)
		}
	}
	res.Error = derefString(errMsg)
	res.ErrorKind = derefString(errKind)
	res.Reason = derefString(reason)
	if startedAt != nil {
		res.StartedAt = *startedAt
	}
	if finishedAt != nil {
		res.FinishedAt = *finishedAt
	}
	return &res, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullTime возвращает nil для нулевого времени.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
