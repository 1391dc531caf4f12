package db

import (
	"context"
	"encoding/json"

	"escalator/internal/types"
)

// DispatchAttemptRepository appends to and reads the dispatch_attempts audit
// table. Rows are never updated.
type DispatchAttemptRepository struct {
	db DBTX
}

// NewDispatchAttemptRepository creates a DispatchAttemptRepository.
func NewDispatchAttemptRepository(db DBTX) *DispatchAttemptRepository {
	return &DispatchAttemptRepository{db: db}
}

// RecordAttempt inserts the attempt and returns its generated id. The
// per-channel outcomes are stored as a JSONB array.
func (r *DispatchAttemptRepository) RecordAttempt(ctx context.Context, a *types.DispatchAttempt) (int64, error) {
	outcomes, err := json.Marshal(a.Outcomes)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode channel outcomes", err)
	}

	var id int64
	err = r.db.QueryRow(ctx,
		`INSERT INTO dispatch_attempts
		   (tenant_id, entity_kind, entity_id, step, template_key, outcomes, success, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		a.TenantID, string(a.EntityKind), a.EntityID, a.Step, a.TemplateKey, outcomes, a.Success, a.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to record dispatch attempt", err)
	}
	a.ID = id
	return id, nil
}

// ListByEntity returns the attempts made for one entity, oldest first.
func (r *DispatchAttemptRepository) ListByEntity(ctx context.Context, tenantID string, kind types.EntityKind, entityID string) ([]types.DispatchAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, entity_kind, entity_id, step, template_key, outcomes, success, created_at
		 FROM dispatch_attempts
		 WHERE tenant_id = $1 AND entity_kind = $2 AND entity_id = $3
		 ORDER BY created_at, id`,
		tenantID, string(kind), entityID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query dispatch attempts", err)
	}
	defer rows.Close()

	out := []types.DispatchAttempt{}
	for rows.Next() {
		var a types.DispatchAttempt
		var entityKind string
		var outcomes []byte
		if err := rows.Scan(&a.ID, &a.TenantID, &entityKind, &a.EntityID, &a.Step,
			&a.TemplateKey, &outcomes, &a.Success, &a.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dispatch attempt", err)
		}
		a.EntityKind = types.EntityKind(entityKind)
		if err := json.Unmarshal(outcomes, &a.Outcomes); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode channel outcomes", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating dispatch attempts", err)
	}
	return out, nil
}
