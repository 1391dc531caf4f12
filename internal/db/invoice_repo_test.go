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

func invoiceRow(id string, level int, amount string, last any) []any {
	return []any{
		id, "tenant-a", "INV-" + id,
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		amount, "EUR", "open", level, last,
		"Acme GmbH", "ap@acme.example", "+4915112345678",
	}
}

func TestInvoiceRepository_ListDunningCandidates(t *testing.T) {
	db := new(mockDBTX)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()
	cutoff := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	last := time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC)

	rows := newMockRows([][]any{
		invoiceRow("1", 0, "120.50", nil),
		invoiceRow("2", 2, "99999999.99", last),
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	got, err := repo.ListDunningCandidates(ctx, "tenant-a", 4, cutoff)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "120.5", got[0].AmountDue.String())
	assert.Equal(t, types.InvoiceOpen, got[0].Status)
	assert.Nil(t, got[0].LastDunningAt)

	assert.Equal(t, 2, got[1].DunningLevel)
	assert.Equal(t, "99999999.99", got[1].AmountDue.StringFixed(2))
	require.NotNil(t, got[1].LastDunningAt)
	assert.True(t, got[1].LastDunningAt.Equal(last))

	assert.Equal(t, []any{"tenant-a", 4, cutoff}, argsOf(db, 0))
	assert.Contains(t, sqlOf(db, 0), "tenant_id = $1")
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestInvoiceRepository_ListDunningCandidates_BadAmount(t *testing.T) {
	db := new(mockDBTX)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	rows := newMockRows([][]any{invoiceRow("1", 0, "not-a-number", nil)})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.ListDunningCandidates(ctx, "tenant-a", 4, time.Now())
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestInvoiceRepository_ListDunningCandidates_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("query", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("connection refused"))
		_, err := NewInvoiceRepository(db).ListDunningCandidates(ctx, "tenant-a", 4, time.Now())
		assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	})

	t.Run("iteration", func(t *testing.T) {
		db := new(mockDBTX)
		rows := newMockRows(nil)
		rows.errVal = errors.New("conn reset")
		db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)
		_, err := NewInvoiceRepository(db).ListDunningCandidates(ctx, "tenant-a", 4, time.Now())
		assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	})
}

func TestInvoiceRepository_TenantQueries(t *testing.T) {
	db := new(mockDBTX)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()
	cutoff := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{{"tenant-a"}, {"tenant-b"}}), nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{{"tenant-c"}}), nil).Once()

	got, err := repo.TenantsWithDunningCandidates(ctx, 4, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, got)
	assert.Equal(t, []any{4, cutoff}, argsOf(db, 0))

	got, err = repo.TenantsWithOpenInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-c"}, got)
	assert.Empty(t, argsOf(db, 1))
}

func TestInvoiceRepository_CountOpenByLevel(t *testing.T) {
	db := new(mockDBTX)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{{0, int64(12)}, {3, int64(2)}}), nil)

	got, err := repo.CountOpenByLevel(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 12, 3: 2}, got)
	assert.Equal(t, []any{"tenant-a"}, argsOf(db, 0))
}
