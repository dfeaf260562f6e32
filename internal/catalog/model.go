package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category separates rental garments from items sold outright.
type Category string

const (
	CategoryRental Category = "RENTAL"
	CategorySale   Category = "SALE"
)

// Status describes product availability.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusRented    Status = "RENTED"
	StatusSold      Status = "SOLD"
)

// Product represents an inventory item. Counters are mutated only through the
// conditional repository updates used by the order engine.
type Product struct {
	ID              int64           `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Category        Category        `json:"category"`
	Status          Status          `json:"status"`
	InitialStock    int             `json:"initial_stock"`
	QuantityInStock int             `json:"quantity_in_stock"`
	QuantityRented  int             `json:"quantity_rented"`
	QuantitySold    int             `json:"quantity_sold"`
	BranchID        *int64          `json:"branch_id,omitempty"`
	IsGlobal        bool            `json:"is_global"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Available is the quantity free for new rental or sale operations.
func (p Product) Available() int {
	return p.QuantityInStock - p.QuantityRented
}
