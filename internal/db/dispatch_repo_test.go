package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"escalator/internal/types"
)

func TestDispatchAttemptRepository_RecordAttempt(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	at := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 42
			return nil
		},
	})

	attempt := &types.DispatchAttempt{
		TenantID:    "tenant-a",
		EntityKind:  types.EntityInvoice,
		EntityID:    "inv-1",
		Step:        2,
		TemplateKey: "dunning.level2",
		Outcomes: []types.ChannelOutcome{
			{Channel: types.ChannelEmail, Status: types.OutcomeSent, ProviderMessageID: "sg-1"},
			{Channel: types.ChannelSMS, Status: types.OutcomeFailed, Error: "upstream"},
		},
		Success:   true,
		CreatedAt: at,
	}
	id, err := NewDispatchAttemptRepository(db).RecordAttempt(ctx, attempt)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, int64(42), attempt.ID)

	args := argsOf(db, 0)
	require.Len(t, args, 8)
	assert.Equal(t, "invoice", args[1])

	var stored []types.ChannelOutcome
	require.NoError(t, json.Unmarshal(args[5].([]byte), &stored))
	assert.Equal(t, attempt.Outcomes, stored)
}

func TestDispatchAttemptRepository_RecordAttempt_DBError(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("disk full")})

	_, err := NewDispatchAttemptRepository(db).RecordAttempt(ctx, &types.DispatchAttempt{})
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestDispatchAttemptRepository_ListByEntity(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	at := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)

	rows := newMockRows([][]any{{
		int64(7), "tenant-a", "invoice", "inv-1", 1, "dunning.level1",
		[]byte(`[{"channel":"email","status":"sent"}]`), true, at,
	}})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	got, err := NewDispatchAttemptRepository(db).ListByEntity(ctx, "tenant-a", types.EntityInvoice, "inv-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, types.EntityInvoice, got[0].EntityKind)
	assert.Equal(t, []types.ChannelOutcome{{Channel: types.ChannelEmail, Status: types.OutcomeSent}}, got[0].Outcomes)
	assert.Equal(t, []any{"tenant-a", "invoice", "inv-1"}, argsOf(db, 0))
}
