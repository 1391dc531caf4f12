package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"escalator/internal/types"
)

// ProgressRepository is the write side of entity progress: invoice dunning
// levels and appointment reminder flags. The conditional methods back the
// atomic guard; the Get/Set pairs back the serialized fallback.
type ProgressRepository struct {
	db DBTX
}

// NewProgressRepository creates a ProgressRepository.
func NewProgressRepository(db DBTX) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// AdvanceLevel moves an open invoice to target only if it is below target.
// Exactly one concurrent caller sees true.
func (r *ProgressRepository) AdvanceLevel(ctx context.Context, tenantID, entityID string, target int, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices
		 SET dunning_level = $3, last_dunning_at = $4
		 WHERE tenant_id = $1 AND id = $2
		   AND dunning_level < $3
		   AND status = 'open'`,
		tenantID, entityID, target, at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to advance dunning level", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkReminderSent flips the reminder flag only if it is still false.
func (r *ProgressRepository) MarkReminderSent(ctx context.Context, tenantID, entityID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE appointments
		 SET reminder_sent = TRUE, reminder_sent_at = $3
		 WHERE tenant_id = $1 AND id = $2
		   AND reminder_sent = FALSE
		   AND status = 'scheduled'`,
		tenantID, entityID, at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminder sent", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetLevel reads an invoice's dunning level and whether it is still open.
func (r *ProgressRepository) GetLevel(ctx context.Context, tenantID, entityID string) (int, bool, error) {
	var level int
	var open bool
	err := r.db.QueryRow(ctx,
		`SELECT dunning_level, status = 'open' FROM invoices WHERE tenant_id = $1 AND id = $2`,
		tenantID, entityID,
	).Scan(&level, &open)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, types.NewAppError(types.ErrCodeNotFoundEntity, "invoice not found", nil)
	}
	if err != nil {
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to read dunning level", err)
	}
	return level, open, nil
}

// SetLevel writes an open invoice's dunning level without comparing levels.
func (r *ProgressRepository) SetLevel(ctx context.Context, tenantID, entityID string, level int, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE invoices SET dunning_level = $3, last_dunning_at = $4
		 WHERE tenant_id = $1 AND id = $2 AND status = 'open'`,
		tenantID, entityID, level, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write dunning level", err)
	}
	return nil
}

// GetReminderSent reads an appointment's reminder flag and whether the
// appointment is still scheduled.
func (r *ProgressRepository) GetReminderSent(ctx context.Context, tenantID, entityID string) (bool, bool, error) {
	var sent, scheduled bool
	err := r.db.QueryRow(ctx,
		`SELECT reminder_sent, status = 'scheduled' FROM appointments WHERE tenant_id = $1 AND id = $2`,
		tenantID, entityID,
	).Scan(&sent, &scheduled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, types.NewAppError(types.ErrCodeNotFoundEntity, "appointment not found", nil)
	}
	if err != nil {
		return false, false, types.NewAppError(types.ErrCodeInternalDB, "failed to read reminder flag", err)
	}
	return sent, scheduled, nil
}

// SetReminderSent sets a scheduled appointment's reminder flag without
// checking its current value.
func (r *ProgressRepository) SetReminderSent(ctx context.Context, tenantID, entityID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE appointments SET reminder_sent = TRUE, reminder_sent_at = $3
		 WHERE tenant_id = $1 AND id = $2 AND status = 'scheduled'`,
		tenantID, entityID, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write reminder flag", err)
	}
	return nil
}
