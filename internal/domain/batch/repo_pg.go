package batch

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type batchRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &batchRepoPG{pool: pool}
}

const runCols = `id, operation, status, total, succeeded, rejected, invalid,
	exhausted, needs_review, duplicates, retried, started_at, completed_at`

func (r *batchRepoPG) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO batch_run (id, operation, status, total, succeeded, rejected, invalid,
			exhausted, needs_review, duplicates, retried, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		run.ID, run.Operation, run.Status, run.Total, run.Succeeded, run.Rejected, run.Invalid,
		run.Exhausted, run.NeedsReview, run.Duplicates, run.Retried, run.StartedAt, run.CompletedAt)
	return err
}

func (r *batchRepoPG) UpdateRun(ctx context.Context, run *Run) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batch_run SET status=$2, total=$3, succeeded=$4, rejected=$5, invalid=$6,
			exhausted=$7, needs_review=$8, duplicates=$9, retried=$10, completed_at=$11
		WHERE id = $1`,
		run.ID, run.Status, run.Total, run.Succeeded, run.Rejected, run.Invalid,
		run.Exhausted, run.NeedsReview, run.Duplicates, run.Retried, run.CompletedAt)
	return err
}

func (r *batchRepoPG) scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.Operation, &run.Status, &run.Total, &run.Succeeded, &run.Rejected,
		&run.Invalid, &run.Exhausted, &run.NeedsReview, &run.Duplicates, &run.Retried,
		&run.StartedAt, &run.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *batchRepoPG) GetRun(ctx context.Context, id string) (*Run, error) {
	return r.scanRun(r.pool.QueryRow(ctx, `SELECT `+runCols+` FROM batch_run WHERE id = $1`, id))
}

func (r *batchRepoPG) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runCols+` FROM batch_run ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

const recordCols = `id, run_id, seq, natural_key, input, status, attempts,
	result, error_kind, error_detail, duplicate_of, updated_at`

func (r *batchRepoPG) CreateRecord(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO batch_record (id, run_id, seq, natural_key, input, status, attempts,
			result, error_kind, error_detail, duplicate_of, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.RunID, rec.Seq, rec.NaturalKey, rec.Input, rec.Status, rec.Attempts,
		rec.Result, rec.ErrorKind, rec.ErrorDetail, rec.DuplicateOf, rec.UpdatedAt)
	return err
}

func (r *batchRepoPG) UpdateRecord(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batch_record SET status=$2, attempts=$3, result=$4, error_kind=$5,
			error_detail=$6, duplicate_of=$7, updated_at=$8
		WHERE id = $1`,
		rec.ID, rec.Status, rec.Attempts, rec.Result, rec.ErrorKind,
		rec.ErrorDetail, rec.DuplicateOf, rec.UpdatedAt)
	return err
}

func (r *batchRepoPG) ListRecords(ctx context.Context, runID string) ([]*Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordCols+` FROM batch_record WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Seq, &rec.NaturalKey, &rec.Input, &rec.Status,
			&rec.Attempts, &rec.Result, &rec.ErrorKind, &rec.ErrorDetail, &rec.DuplicateOf, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
