// Package engine implements the order and inventory transaction engine: the
// rules that keep product stock counters, order balances and the financial
// ledger mutually consistent across an order's lifecycle.
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes rental orders from outright sales.
type TransactionType string

const (
	TypeRental TransactionType = "RENTAL"
	TypeSale   TransactionType = "SALE"
)

// Status enumerates stored order states.
type Status string

const (
	StatusOngoing   Status = "ONGOING"
	StatusPrepared  Status = "PREPARED"
	StatusDelivered Status = "DELIVERED"
	StatusCompleted Status = "COMPLETED"
	// StatusCancelled is a valid stored state but the engine exposes no
	// transition into it; it can only arrive through external mutation.
	StatusCancelled Status = "CANCELLED"
	// StatusOverdue is derived, never stored. See Order.DerivedStatus.
	StatusOverdue Status = "OVERDUE"
)

// ReturnCondition is the inspection outcome recorded when a rental comes back.
type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "GOOD"
	ConditionDamaged ReturnCondition = "DAMAGED"
)

// OrderItem is a line of an order. Name, code and price are snapshots taken
// at creation; the price changes only through an explicit discount on the
// order, never per line.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductCode string          `json:"product_code"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Subtotal is quantity times the snapshot price.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the mutable order aggregate.
type Order struct {
	ID              int64           `json:"id"`
	Code            string          `json:"code"`
	Items           []OrderItem     `json:"items"`
	CustomerID      int64           `json:"customer_id"`
	SellerID        *int64          `json:"seller_id,omitempty"`
	ProcessedByID   int64           `json:"processed_by_id"`
	ProcessedByName string          `json:"processed_by_name"`
	Type            TransactionType `json:"type"`
	OrderDate       time.Time       `json:"order_date"`
	DeliveryDate    time.Time       `json:"delivery_date"`
	ReturnDate      *time.Time      `json:"return_date,omitempty"`
	Total           decimal.Decimal `json:"total"`
	Discount        decimal.Decimal `json:"discount"`
	Paid            decimal.Decimal `json:"paid"`
	Remaining       decimal.Decimal `json:"remaining"`
	Status          Status          `json:"status"`
	BranchID        *int64          `json:"branch_id,omitempty"`
	BranchName      string          `json:"branch_name,omitempty"`
	// Pending marks a creation whose counter effects may not all have been
	// applied yet. Cleared as the final creation step; the recovery sweep
	// resolves rows stuck pending.
	Pending   bool      `json:"-"`
	Events    []Event   `json:"events,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deletable reports whether the order may still be removed.
func (o Order) Deletable() bool {
	return o.Status != StatusDelivered && o.Status != StatusCompleted
}

// Settled reports whether the outstanding balance is zero.
func (o Order) Settled() bool {
	return o.Remaining.IsZero()
}

// DerivedStatus returns OVERDUE for delivered rentals past their return date,
// otherwise the stored status. OVERDUE is an observed label, not a stored
// transition target.
func (o Order) DerivedStatus(now time.Time) Status {
	if o.Type == TypeRental && o.Status == StatusDelivered && o.ReturnDate != nil {
		if o.ReturnDate.Before(now.Truncate(24 * time.Hour)) {
			return StatusOverdue
		}
	}
	return o.Status
}

// ItemTotal sums the line subtotals.
func ItemTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
