package finance

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists the financial ledger in PostgreSQL.
type Repository interface {
	Append(ctx context.Context, tx Transaction) (Transaction, error)
	ListByOrder(ctx context.Context, orderID int64) ([]Transaction, error)
	DeleteByOrder(ctx context.Context, orderID int64) (int64, error)
	Revenue(ctx context.Context, branchID *int64, from, to time.Time) (decimal.Decimal, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// Append inserts a ledger row. There is intentionally no update method.
func (r *repository) Append(ctx context.Context, tx Transaction) (Transaction, error) {
	const query = `INSERT INTO financial_transactions
		(order_id, order_code, type, category, amount, payment_method, date, processed_by_id, processed_by_name, branch_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id, created_at`
	err := r.db.QueryRow(ctx, query,
		tx.OrderID, tx.OrderCode, tx.Type, tx.Category, tx.Amount, tx.PaymentMethod, tx.Date, tx.ProcessedByID, tx.ProcessedByName, tx.BranchID).
		Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID int64) ([]Transaction, error) {
	const query = `SELECT id, order_id, order_code, type, category, amount, payment_method, date, processed_by_id, processed_by_name, branch_id, created_at
		FROM financial_transactions WHERE order_id = $1 ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.OrderID, &tx.OrderCode, &tx.Type, &tx.Category, &tx.Amount, &tx.PaymentMethod, &tx.Date, &tx.ProcessedByID, &tx.ProcessedByName, &tx.BranchID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// DeleteByOrder removes every ledger row of an order. Only called from the
// order deletion cascade.
func (r *repository) DeleteByOrder(ctx context.Context, orderID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM financial_transactions WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Revenue sums payments received in the window, optionally per branch.
func (r *repository) Revenue(ctx context.Context, branchID *int64, from, to time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM financial_transactions WHERE type = $1 AND date >= $2 AND date <= $3`
	args := []interface{}{TypePaymentReceived, from, to}
	if branchID != nil {
		query += ` AND branch_id = $4`
		args = append(args, *branchID)
	}
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, query, args...).Scan(&total)
	return total, err
}
