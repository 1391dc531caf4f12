package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"escalator/internal/types"
)

func TestAppointmentRepository_ListReminderCandidates(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAppointmentRepository(db)
	ctx := context.Background()
	day := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)

	rows := newMockRows([][]any{{
		"appt-1", "tenant-a", day, int64(6 * 3600), "scheduled",
		false, nil, "Haircut", "Jo", "jo@example.com", "+4915100000000",
	}})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	got, err := repo.ListReminderCandidates(ctx, "tenant-a", day, 0, 4*time.Hour+30*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)

	a := got[0]
	assert.Equal(t, "appt-1", a.ID)
	assert.Equal(t, 6*time.Hour, a.StartTime)
	assert.Equal(t, types.AppointmentScheduled, a.Status)
	assert.False(t, a.ReminderSent)
	assert.Nil(t, a.ReminderSentAt)
	assert.Equal(t, "Haircut", a.ServiceName)

	assert.Equal(t, []any{"tenant-a", day, "00:00:00", "04:30:00"}, argsOf(db, 0))
	assert.Contains(t, sqlOf(db, 0), "reminder_sent = FALSE")
	db.AssertExpectations(t)
}

func TestAppointmentRepository_ListReminderCandidates_ScanError(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	rows := newMockRows([][]any{{"x"}})
	rows.scanErr = errors.New("bad column")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := NewAppointmentRepository(db).ListReminderCandidates(ctx, "tenant-a", time.Now(), 0, time.Hour)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestAppointmentRepository_TenantsWithReminderCandidates(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	from := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{{"tenant-a"}}), nil)

	got, err := NewAppointmentRepository(db).TenantsWithReminderCandidates(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a"}, got)
	assert.Equal(t, []any{from, to}, argsOf(db, 0))
}

func TestClockString(t *testing.T) {
	assert.Equal(t, "00:00:00", clockString(0))
	assert.Equal(t, "23:59:59", clockString(24*time.Hour-time.Nanosecond))
	assert.Equal(t, "06:05:04", clockString(6*time.Hour+5*time.Minute+4*time.Second))
}
