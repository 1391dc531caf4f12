package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"escalator/internal/types"
)

// InvoiceRepository is the read side of the invoices table.
type InvoiceRepository struct {
	db DBTX
}

// NewInvoiceRepository creates an InvoiceRepository.
func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// amount_due is selected as text and parsed into a decimal to keep full
// precision.
const invoiceColumns = `id, tenant_id, number, due_date, amount_due::text, currency, status,
	dunning_level, last_dunning_at, customer_name, customer_email, customer_phone`

// ListDunningCandidates returns open invoices of tenantID below maxLevel and
// due on or before dueOnOrBefore, oldest due date first.
func (r *InvoiceRepository) ListDunningCandidates(ctx context.Context, tenantID string, maxLevel int, dueOnOrBefore time.Time) ([]types.Invoice, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE tenant_id = $1
		   AND status = 'open'
		   AND dunning_level < $2
		   AND due_date <= $3
		 ORDER BY due_date, id`,
		tenantID, maxLevel, dueOnOrBefore,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query dunning candidates", err)
	}
	defer rows.Close()

	var out []types.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating invoice rows", err)
	}
	return out, nil
}

func scanInvoice(row pgx.Row) (types.Invoice, error) {
	var inv types.Invoice
	var amount, status string
	if err := row.Scan(
		&inv.ID,
		&inv.TenantID,
		&inv.Number,
		&inv.DueDate,
		&amount,
		&inv.Currency,
		&status,
		&inv.DunningLevel,
		&inv.LastDunningAt,
		&inv.CustomerName,
		&inv.CustomerEmail,
		&inv.CustomerPhone,
	); err != nil {
		return inv, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invoice row", err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return inv, types.NewAppError(types.ErrCodeInternalDB, "invalid invoice amount "+amount, err)
	}
	inv.AmountDue = d
	inv.Status = types.InvoiceStatus(status)
	return inv, nil
}

// TenantsWithDunningCandidates is the cross-tenant existence query for the
// dunning job.
func (r *InvoiceRepository) TenantsWithDunningCandidates(ctx context.Context, maxLevel int, dueOnOrBefore time.Time) ([]string, error) {
	return queryTenants(ctx, r.db,
		`SELECT DISTINCT tenant_id FROM invoices
		 WHERE status = 'open' AND dunning_level < $1 AND due_date <= $2
		 ORDER BY tenant_id`,
		maxLevel, dueOnOrBefore,
	)
}

// TenantsWithOpenInvoices returns every tenant owning an open invoice.
func (r *InvoiceRepository) TenantsWithOpenInvoices(ctx context.Context) ([]string, error) {
	return queryTenants(ctx, r.db,
		`SELECT DISTINCT tenant_id FROM invoices WHERE status = 'open' ORDER BY tenant_id`,
	)
}

// CountOpenByLevel counts the tenant's open invoices per dunning level.
func (r *InvoiceRepository) CountOpenByLevel(ctx context.Context, tenantID string) (map[int]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT dunning_level, COUNT(*)
		 FROM invoices
		 WHERE tenant_id = $1 AND status = 'open'
		 GROUP BY dunning_level`,
		tenantID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count invoices by level", err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var level int
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan level count", err)
		}
		out[level] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating level counts", err)
	}
	return out, nil
}

func queryTenants(ctx context.Context, db DBTX, sql string, args ...any) ([]string, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tenants", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tenant id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating tenant rows", err)
	}
	return out, nil
}
