package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProductNotFound indicates a missing product row.
var ErrProductNotFound = errors.New("catalog: product not found")

// ListFilters narrows product listings.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	Category *Category
	BranchID *int64
	SortBy   string
	SortDir  string
}

// Repository persists products in PostgreSQL.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	GetByCode(ctx context.Context, code string) (Product, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, id int64, product Product) error
	Delete(ctx context.Context, id int64) error

	CounterRepository
}

// CounterRepository exposes the single-statement conditional counter updates
// the order engine relies on. Each call is atomic at the storage layer; the
// boolean result reports whether the guard held.
type CounterRepository interface {
	ReserveRental(ctx context.Context, productID int64, qty int) (bool, error)
	CommitSale(ctx context.Context, productID int64, qty int) (bool, error)
	ReleaseRental(ctx context.Context, productID int64, qty int) error
	RestoreRental(ctx context.Context, productID int64, qty int) error
	RestoreSale(ctx context.Context, productID int64, qty int) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const productColumns = `id, code, name, price, category, status, initial_stock, quantity_in_stock, quantity_rented, quantity_sold, branch_id, is_global, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Category, &p.Status, &p.InitialStock, &p.QuantityInStock, &p.QuantityRented, &p.QuantitySold, &p.BranchID, &p.IsGlobal, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Category != nil {
		argCount++
		where += ` AND category = $` + strconv.Itoa(argCount)
		args = append(args, *filters.Category)
	}
	if filters.BranchID != nil {
		argCount++
		where += ` AND (is_global OR branch_id = $` + strconv.Itoa(argCount) + `)`
		args = append(args, *filters.BranchID)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)

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

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *repository) GetByCode(ctx context.Context, code string) (Product, error) {
	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE code = $1`, code))
}

func (r *repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	const query = `INSERT INTO products (code, name, price, category, status, initial_stock, quantity_in_stock, quantity_rented, quantity_sold, branch_id, is_global, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, product.Code, product.Name, product.Price, product.Category, product.Status, product.InitialStock, product.QuantityInStock, product.QuantityRented, product.QuantitySold, product.BranchID, product.IsGlobal, now).Scan(&product.ID)
	if err != nil {
		return Product{}, err
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	return product, nil
}

func (r *repository) Update(ctx context.Context, id int64, product Product) error {
	const query = `UPDATE products SET name = $1, price = $2, category = $3, branch_id = $4, is_global = $5, updated_at = $6 WHERE id = $7`
	tag, err := r.db.Exec(ctx, query, product.Name, product.Price, product.Category, product.BranchID, product.IsGlobal, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// ReserveRental increments quantity_rented when enough stock is free. The
// availability guard lives in the statement itself, so concurrent reservations
// cannot both pass on the same last unit.
func (r *repository) ReserveRental(ctx context.Context, productID int64, qty int) (bool, error) {
	const query = `UPDATE products
		SET quantity_rented = quantity_rented + $2, updated_at = NOW()
		WHERE id = $1 AND quantity_in_stock - quantity_rented >= $2`
	tag, err := r.db.Exec(ctx, query, productID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CommitSale decrements stock and marks the product SOLD when it reaches zero.
func (r *repository) CommitSale(ctx context.Context, productID int64, qty int) (bool, error) {
	const query = `UPDATE products
		SET quantity_in_stock = quantity_in_stock - $2,
		    quantity_sold = quantity_sold + $2,
		    status = CASE WHEN quantity_in_stock - $2 <= 0 THEN 'SOLD' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND quantity_in_stock >= $2`
	tag, err := r.db.Exec(ctx, query, productID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseRental returns rented units to stock, floored at zero. A sold-out
// product keeps its SOLD status even after the rental comes back.
func (r *repository) ReleaseRental(ctx context.Context, productID int64, qty int) error {
	const query = `UPDATE products
		SET quantity_rented = GREATEST(quantity_rented - $2, 0),
		    status = CASE WHEN status <> 'SOLD' THEN 'AVAILABLE' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1`
	_, err := r.db.Exec(ctx, query, productID, qty)
	return err
}

// RestoreRental reverts a rental reservation during order deletion.
func (r *repository) RestoreRental(ctx context.Context, productID int64, qty int) error {
	const query = `UPDATE products
		SET quantity_rented = GREATEST(quantity_rented - $2, 0), updated_at = NOW()
		WHERE id = $1`
	_, err := r.db.Exec(ctx, query, productID, qty)
	return err
}

// RestoreSale reverts a sale decrement during order deletion.
func (r *repository) RestoreSale(ctx context.Context, productID int64, qty int) error {
	const query = `UPDATE products
		SET quantity_in_stock = quantity_in_stock + $2,
		    quantity_sold = GREATEST(quantity_sold - $2, 0),
		    status = CASE WHEN status = 'SOLD' AND quantity_in_stock + $2 > 0 THEN 'AVAILABLE' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1`
	_, err := r.db.Exec(ctx, query, productID, qty)
	return err
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "price":
		return "price " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}
