package db

import (
	"context"
	"time"

	"escalator/internal/types"
)

// AppointmentRepository is the read side of the appointments table.
type AppointmentRepository struct {
	db DBTX
}

// NewAppointmentRepository creates an AppointmentRepository.
func NewAppointmentRepository(db DBTX) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// ListReminderCandidates returns scheduled, unreminded appointments of
// tenantID on date with from <= start_time <= to. start_time is read back as
// whole seconds since midnight.
func (r *AppointmentRepository) ListReminderCandidates(ctx context.Context, tenantID string, date time.Time, from, to time.Duration) ([]types.Appointment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, date, EXTRACT(EPOCH FROM start_time)::bigint, status,
		        reminder_sent, reminder_sent_at, service_name, customer_name,
		        customer_email, customer_phone
		 FROM appointments
		 WHERE tenant_id = $1
		   AND date = $2
		   AND start_time BETWEEN $3::time AND $4::time
		   AND status = 'scheduled'
		   AND reminder_sent = FALSE
		 ORDER BY start_time, id`,
		tenantID, date, clockString(from), clockString(to),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query reminder candidates", err)
	}
	defer rows.Close()

	var out []types.Appointment
	for rows.Next() {
		var a types.Appointment
		var seconds int64
		var status string
		if err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.Date,
			&seconds,
			&status,
			&a.ReminderSent,
			&a.ReminderSentAt,
			&a.ServiceName,
			&a.CustomerName,
			&a.CustomerEmail,
			&a.CustomerPhone,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan appointment row", err)
		}
		a.StartTime = time.Duration(seconds) * time.Second
		a.Status = types.AppointmentStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating appointment rows", err)
	}
	return out, nil
}

// TenantsWithReminderCandidates is the cross-tenant existence query for the
// reminder job.
func (r *AppointmentRepository) TenantsWithReminderCandidates(ctx context.Context, fromDate, toDate time.Time) ([]string, error) {
	return queryTenants(ctx, r.db,
		`SELECT DISTINCT tenant_id FROM appointments
		 WHERE status = 'scheduled' AND reminder_sent = FALSE
		   AND date BETWEEN $1 AND $2
		 ORDER BY tenant_id`,
		fromDate, toDate,
	)
}
