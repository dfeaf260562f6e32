package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atelier-erp/atelier/internal/platform/db"
)

// ErrOrderNotFound indicates a missing order row.
var ErrOrderNotFound = errors.New("engine: order not found")

// ListFilters narrows order listings.
type ListFilters struct {
	Page       int
	Limit      int
	Search     string
	Status     *Status
	Type       *TransactionType
	CustomerID *int64
	BranchID   *int64
	// OverdueOnly restricts to delivered rentals past their return date.
	OverdueOnly bool
}

// Repository persists orders, items and audit events.
type Repository interface {
	Get(ctx context.Context, id int64) (Order, error)
	GetByCode(ctx context.Context, code string) (Order, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, filters ListFilters) ([]Order, int, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Order, error)

	// Insert writes the order, its items and its first events in one
	// transaction, returning the stored aggregate.
	Insert(ctx context.Context, order Order) (Order, error)
	ClearPending(ctx context.Context, id int64) error

	// ApplyDiscount and ApplyPayment move the balance in a single
	// conditional statement; false means the guard (remaining amount or
	// status) did not hold.
	ApplyDiscount(ctx context.Context, id int64, amount decimal.Decimal) (bool, error)
	ApplyPayment(ctx context.Context, id int64, amount decimal.Decimal) (bool, error)

	// TransitionStatus performs a compare-and-set status move.
	TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error)

	AppendEvent(ctx context.Context, event Event) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const orderColumns = `id, code, customer_id, seller_id, processed_by_id, processed_by_name, type, order_date, delivery_date, return_date, total, discount, paid, remaining, status, branch_id, branch_name, pending, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Code, &o.CustomerID, &o.SellerID, &o.ProcessedByID, &o.ProcessedByName, &o.Type, &o.OrderDate, &o.DeliveryDate, &o.ReturnDate, &o.Total, &o.Discount, &o.Paid, &o.Remaining, &o.Status, &o.BranchID, &o.BranchName, &o.Pending, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

func (r *repository) Get(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	return r.loadDetails(ctx, order)
}

func (r *repository) GetByCode(ctx context.Context, code string) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE code = $1`, code))
	if err != nil {
		return Order{}, err
	}
	return r.loadDetails(ctx, order)
}

func (r *repository) loadDetails(ctx context.Context, order Order) (Order, error) {
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return Order{}, err
	}
	order.Items = items

	events, err := r.loadEvents(ctx, order.ID)
	if err != nil {
		return Order{}, err
	}
	order.Events = events
	return order, nil
}

func (r *repository) loadItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, product_name, product_code, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductCode, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) loadEvents(ctx context.Context, orderID int64) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, actor_id, actor_name, at, kind, payload FROM order_events WHERE order_id = $1 ORDER BY at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &e.ActorID, &e.ActorName, &e.At, &e.Kind, &payload); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		where += ` AND code ILIKE $` + strconv.Itoa(argCount)
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Status != nil {
		argCount++
		where += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, *filters.Status)
	}
	if filters.Type != nil {
		argCount++
		where += ` AND type = $` + strconv.Itoa(argCount)
		args = append(args, *filters.Type)
	}
	if filters.CustomerID != nil {
		argCount++
		where += ` AND customer_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.CustomerID)
	}
	if filters.BranchID != nil {
		argCount++
		where += ` AND branch_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.BranchID)
	}
	if filters.OverdueOnly {
		where += ` AND type = 'RENTAL' AND status = 'DELIVERED' AND return_date < CURRENT_DATE`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at DESC, id DESC`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, 0, err
		}
		orders[i].Items = items
	}
	return orders, total, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE pending AND created_at < $1 ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *repository) Insert(ctx context.Context, order Order) (Order, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `INSERT INTO orders
			(code, customer_id, seller_id, processed_by_id, processed_by_name, type, order_date, delivery_date, return_date, total, discount, paid, remaining, status, branch_id, branch_name, pending, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
			RETURNING id, created_at, updated_at`
		if err := tx.QueryRow(ctx, query,
			order.Code, order.CustomerID, order.SellerID, order.ProcessedByID, order.ProcessedByName, order.Type,
			order.OrderDate, order.DeliveryDate, order.ReturnDate, order.Total, order.Discount, order.Paid, order.Remaining,
			order.Status, order.BranchID, order.BranchName, order.Pending).
			Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return err
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			if err := tx.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, product_name, product_code, quantity, unit_price) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
				item.OrderID, item.ProductID, item.ProductName, item.ProductCode, item.Quantity, item.UnitPrice).
				Scan(&item.ID); err != nil {
				return err
			}
		}

		for i := range order.Events {
			order.Events[i].OrderID = order.ID
			if err := insertEvent(ctx, tx, order.Events[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO order_events (id, order_id, actor_id, actor_name, at, kind, payload) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.OrderID, event.ActorID, event.ActorName, event.At, event.Kind, payload)
	return err
}

func (r *repository) ClearPending(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE orders SET pending = false, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// ApplyDiscount re-checks the remaining amount and the status inside the
// statement, so a concurrent payment cannot push the balance negative.
func (r *repository) ApplyDiscount(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	const query = `UPDATE orders
		SET discount = discount + $2, remaining = remaining - $2, updated_at = NOW()
		WHERE id = $1 AND remaining >= $2 AND status NOT IN ('DELIVERED', 'COMPLETED')`
	tag, err := r.pool.Exec(ctx, query, id, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyPayment is allowed in any status; only the balance guard applies.
func (r *repository) ApplyPayment(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	const query = `UPDATE orders
		SET paid = paid + $2, remaining = remaining - $2, updated_at = NOW()
		WHERE id = $1 AND remaining >= $2`
	tag, err := r.pool.Exec(ctx, query, id, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) AppendEvent(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO order_events (id, order_id, actor_id, actor_name, at, kind, payload) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.OrderID, event.ActorID, event.ActorName, event.At, event.Kind, payload)
	return err
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM order_events WHERE order_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}
		return nil
	})
}
