package db

import (
	"context"
	"encoding/json"
	"time"

	"escalator/internal/types"
)

// JobClaimRepository persists one claim row per job per schedule period in
// job_claims, so that several scheduler instances fire each period once.
type JobClaimRepository struct {
	db  DBTX
	now func() time.Time
}

// NewJobClaimRepository creates a JobClaimRepository.
func NewJobClaimRepository(db DBTX) *JobClaimRepository {
	return &JobClaimRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Claim inserts the (job, period) row. It returns false when another worker
// holds a live claim or already completed the period. A claim that expired
// without completing (a crashed worker) is taken over.
//
//	INSERT INTO job_claims (job_name, period_key, worker_id, claimed_at, expires_at)
//	VALUES ($1, $2, $3, $4, $5)
//	ON CONFLICT (job_name, period_key) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id, claimed_at = EXCLUDED.claimed_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE job_claims.completed_at IS NULL AND job_claims.expires_at < $4
//
// Timestamps are computed in Go so that the TTL never goes through Postgres
// interval parsing.
func (r *JobClaimRepository) Claim(ctx context.Context, job, period, workerID string, ttl time.Duration) (bool, error) {
	now := r.now()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_claims (job_name, period_key, worker_id, claimed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_name, period_key) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       claimed_at = EXCLUDED.claimed_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_claims.completed_at IS NULL
		     AND job_claims.expires_at < $4`,
		job, period, workerID, now, now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim job period", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete marks the period done so that it is never taken over.
func (r *JobClaimRepository) Complete(ctx context.Context, job, period string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE job_claims SET completed_at = $3
		 WHERE job_name = $1 AND period_key = $2`,
		job, period, r.now(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete job period", err)
	}
	return nil
}

// Release drops an uncompleted claim held by workerID so the period can be
// claimed again right away.
func (r *JobClaimRepository) Release(ctx context.Context, job, period, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_claims
		 WHERE job_name = $1 AND period_key = $2
		   AND worker_id = $3 AND completed_at IS NULL`,
		job, period, workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job period", err)
	}
	return nil
}

// JobHistoryRepository provides data access for the job_history table.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a JobHistoryRepository.
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a 'running' row and returns its id.
func (r *JobHistoryRepository) Start(ctx context.Context, job, runID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_name, run_id, started_at, status)
		 VALUES ($1, $2, NOW(), 'running')
		 RETURNING id`,
		job, runID,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish stores the run outcome. The status is derived from the result;
// a non-nil runErr forces 'failed' and is stored in the error column.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, result types.RunResult, runErr error) error {
	status := result.Status()
	var errMsg *string
	if runErr != nil {
		status = types.RunFailed
		s := runErr.Error()
		errMsg = &s
	}

	tenants, err := json.Marshal(result.Tenants)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode tenant results", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, sent = $3, errors = $4, skipped = $5,
		     tenants = $6, error = $7
		 WHERE id = $1`,
		id, string(status), result.Sent, result.Errors, result.Skipped, tenants, errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

// Recent returns the newest runs of job, newest first.
func (r *JobHistoryRepository) Recent(ctx context.Context, job string, limit int) ([]types.RunRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, job_name, run_id, started_at, finished_at, status, sent, errors, skipped, error
		 FROM job_history
		 WHERE job_name = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		job, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query job history", err)
	}
	defer rows.Close()

	out := []types.RunRecord{}
	for rows.Next() {
		var e types.RunRecord
		var status string
		if err := rows.Scan(&e.ID, &e.Job, &e.RunID, &e.StartedAt, &e.FinishedAt, &status,
			&e.Sent, &e.Errors, &e.Skipped, &e.Error); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job history row", err)
		}
		e.Status = types.RunStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job history rows", err)
	}
	return out, nil
}
