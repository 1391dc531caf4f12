package db

import (
	"context"
	"sort"
	"time"

	"escalator/internal/types"
)

// PolicyOverrideRepository stores per-tenant level offset overrides.
type PolicyOverrideRepository struct {
	db  DBTX
	now func() time.Time
}

// NewPolicyOverrideRepository creates a PolicyOverrideRepository.
func NewPolicyOverrideRepository(db DBTX) *PolicyOverrideRepository {
	return &PolicyOverrideRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// GetOverrides returns level -> min offset days for the tenant and kind.
// A tenant without overrides gets an empty map.
func (r *PolicyOverrideRepository) GetOverrides(ctx context.Context, tenantID string, kind types.EntityKind) (map[int]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT level, min_offset_days FROM policy_overrides
		 WHERE tenant_id = $1 AND entity_kind = $2`,
		tenantID, string(kind),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query policy overrides", err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var level, offset int
		if err := rows.Scan(&level, &offset); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan policy override", err)
		}
		out[level] = offset
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating policy overrides", err)
	}
	return out, nil
}

// PutOverrides replaces the tenant's override set for kind in one statement:
// listed levels are upserted and unlisted levels removed. An empty map clears
// every override.
func (r *PolicyOverrideRepository) PutOverrides(ctx context.Context, tenantID string, kind types.EntityKind, offsets map[int]int) error {
	levels := make([]int32, 0, len(offsets))
	for lv := range offsets {
		levels = append(levels, int32(lv))
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	values := make([]int32, len(levels))
	for i, lv := range levels {
		values[i] = int32(offsets[int(lv)])
	}

	_, err := r.db.Exec(ctx,
		`WITH upserted AS (
		   INSERT INTO policy_overrides (tenant_id, entity_kind, level, min_offset_days, updated_at)
		   SELECT $1, $2, lv, off, $5
		   FROM unnest($3::int[], $4::int[]) AS t(lv, off)
		   ON CONFLICT (tenant_id, entity_kind, level) DO UPDATE
		     SET min_offset_days = EXCLUDED.min_offset_days,
		         updated_at = EXCLUDED.updated_at
		   RETURNING level
		 )
		 DELETE FROM policy_overrides
		 WHERE tenant_id = $1 AND entity_kind = $2
		   AND NOT (level = ANY($3::int[]))`,
		tenantID, string(kind), levels, values, r.now(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store policy overrides", err)
	}
	return nil
}
