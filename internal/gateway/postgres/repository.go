// Package postgres persists work orders directly in PostgreSQL. Every
// composer run happens inside one repeatable-read transaction.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workshop/internal/platform/db"
	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/taxrate"
)

//go:embed schema.sql
var schema string

const serializationFailure = "40001"

var (
	_ orders.Gateway    = (*Repository)(nil)
	_ orders.Transactor = (*Repository)(nil)
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists workshop data in PostgreSQL.
type Repository struct {
	*store
	pool *pgxpool.Pool
}

// store runs the queries against either the pool or a transaction.
type store struct {
	q querier
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{store: &store{q: pool}, pool: pool}
}

// Migrate creates the workshop tables when they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, orders.Gateway) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &store{q: tx})
	})
}

func (s *store) GetVehicle(ctx context.Context, id int64) (workshop.Vehicle, error) {
	var v workshop.Vehicle
	err := s.q.QueryRow(ctx,
		`SELECT id, plate, brand, model, client_id FROM vehicles WHERE id = $1`, id).
		Scan(&v.ID, &v.Plate, &v.Brand, &v.Model, &v.ClientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return workshop.Vehicle{}, fmt.Errorf("vehicle %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return workshop.Vehicle{}, fmt.Errorf("postgres: get vehicle: %w", err)
	}
	return v, nil
}

func (s *store) GetProducts(ctx context.Context, ids []int64) (map[int64]workshop.Product, error) {
	out := make(map[int64]workshop.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, name, sale_price, profit_margin, supplier_id, category_id
		   FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: list products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p             workshop.Product
			price, margin pgtype.Numeric
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &margin, &p.SupplierID, &p.CategoryID); err != nil {
			return nil, fmt.Errorf("postgres: scan product: %w", err)
		}
		p.SalePrice = numericToDecimal(price)
		p.ProfitMargin = numericToDecimal(margin)
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *store) GetQuotation(ctx context.Context, id int64) (workshop.Quotation, error) {
	var (
		q                        workshop.Quotation
		status                   string
		total, sub, tax, taxRate pgtype.Numeric
		entry                    pgtype.Date
	)
	err := s.q.QueryRow(ctx,
		`SELECT id, vehicle_id, status, total_price, subtotal, tax_amount, tax_rate, entry_date
		   FROM quotations WHERE id = $1`, id).
		Scan(&q.ID, &q.VehicleID, &status, &total, &sub, &tax, &taxRate, &entry)
	if errors.Is(err, pgx.ErrNoRows) {
		return workshop.Quotation{}, fmt.Errorf("quotation %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return workshop.Quotation{}, fmt.Errorf("postgres: get quotation: %w", err)
	}
	q.Status = workshop.QuotationStatus(status)
	q.TotalPrice = numericToDecimal(total)
	q.Subtotal = numericToDecimalPtr(sub)
	q.TaxAmount = numericToDecimalPtr(tax)
	q.TaxRate = numericToDecimalPtr(taxRate)
	if entry.Valid {
		q.EntryDate = entry.Time
	}

	rows, err := s.q.Query(ctx,
		`SELECT id, product_id, quantity, sale_price, labor_price, discount, COALESCE(tax_id, 0), applied_tax_rate
		   FROM quotation_product_details WHERE quotation_id = $1 ORDER BY id`, id)
	if err != nil {
		return workshop.Quotation{}, fmt.Errorf("postgres: list quotation details: %w", err)
	}
	defer rows.Close()
	quotationID := q.ID
	for rows.Next() {
		var (
			d                            workshop.WorkProductDetail
			price, labor, discount, rate pgtype.Numeric
		)
		if err := rows.Scan(&d.ID, &d.ProductID, &d.Quantity, &price, &labor, &discount, &d.TaxID, &rate); err != nil {
			return workshop.Quotation{}, fmt.Errorf("postgres: scan quotation detail: %w", err)
		}
		d.QuotationID = &quotationID
		d.SalePrice = numericToDecimal(price)
		d.LaborPrice = numericToDecimal(labor)
		d.Discount = numericToDecimal(discount)
		d.AppliedTaxRate = numericToDecimal(rate)
		q.Details = append(q.Details, d)
	}
	return q, rows.Err()
}

func (s *store) ActiveTax(ctx context.Context) (workshop.TaxRate, error) {
	var (
		rate workshop.TaxRate
		pct  pgtype.Numeric
	)
	err := s.q.QueryRow(ctx,
		`SELECT id, rate FROM taxes WHERE active ORDER BY id DESC LIMIT 1`).
		Scan(&rate.ID, &pct)
	if errors.Is(err, pgx.ErrNoRows) {
		return workshop.TaxRate{}, taxrate.ErrNoActiveRate
	}
	if err != nil {
		return workshop.TaxRate{}, fmt.Errorf("postgres: get active tax: %w", err)
	}
	rate.Percent = numericToDecimal(pct)
	return rate, nil
}

func (s *store) CreateWorkOrder(ctx context.Context, o workshop.WorkOrder) (workshop.WorkOrder, error) {
	err := s.q.QueryRow(ctx,
		`INSERT INTO work_orders (vehicle_id, quotation_id, description, status, total_amount, subtotal, tax_amount, tax_rate, order_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		o.VehicleID, o.QuotationID, o.Description, string(o.Status),
		decimalToNumeric(o.TotalAmount), decimalToNumeric(o.Subtotal),
		decimalToNumeric(o.TaxAmount), decimalToNumeric(o.TaxRate),
		pgtype.Date{Time: o.OrderDate, Valid: true}).
		Scan(&o.ID)
	if err != nil {
		return workshop.WorkOrder{}, fmt.Errorf("postgres: insert work order: %w", err)
	}
	return o, nil
}

func (s *store) CreateWorkProductDetail(ctx context.Context, d workshop.WorkProductDetail) (workshop.WorkProductDetail, error) {
	err := s.q.QueryRow(ctx,
		`INSERT INTO work_product_details (work_order_id, product_id, quantity, sale_price, labor_price, discount, tax_id, applied_tax_rate)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		d.WorkOrderID, d.ProductID, d.Quantity,
		decimalToNumeric(d.SalePrice), decimalToNumeric(d.LaborPrice), decimalToNumeric(d.Discount),
		nullableID(d.TaxID), decimalToNumeric(d.AppliedTaxRate)).
		Scan(&d.ID)
	if err != nil {
		return workshop.WorkProductDetail{}, fmt.Errorf("postgres: insert work product detail: %w", err)
	}
	return d, nil
}

func (s *store) DeleteWorkProductDetail(ctx context.Context, id int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM work_product_details WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete work product detail: %w", err)
	}
	return nil
}

func (s *store) DeleteWorkOrder(ctx context.Context, id int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete work order: %w", err)
	}
	return nil
}

func (s *store) Snapshot(ctx context.Context, productIDs []int64) (map[int64]workshop.StockRecord, error) {
	out := make(map[int64]workshop.StockRecord, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, product_id, quantity, updated_at
		   FROM stock_products WHERE product_id = ANY($1) ORDER BY id`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stock: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec workshop.StockRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.Quantity, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan stock: %w", err)
		}
		if _, seen := out[rec.ProductID]; !seen {
			out[rec.ProductID] = rec
		}
	}
	return out, rows.Err()
}

// DecrementIfAvailable subtracts qty in a single conditional update and
// reports whether a row matched. A serialization failure against a
// concurrent transaction also reports false.
func (s *store) DecrementIfAvailable(ctx context.Context, productID int64, qty int) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE stock_products SET quantity = quantity - $2, updated_at = NOW()
		  WHERE product_id = $1 AND quantity >= $2`, productID, qty)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: decrement stock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *store) Increment(ctx context.Context, productID int64, qty int) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE stock_products SET quantity = quantity + $2, updated_at = NOW()
		  WHERE product_id = $1`, productID, qty)
	if err != nil {
		return fmt.Errorf("postgres: increment stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock record for product %d: %w", productID, shared.ErrNotFound)
	}
	return nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func numericToDecimalPtr(n pgtype.Numeric) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := numericToDecimal(n)
	return &d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
