package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	// TypeInitialSaleValue records the full value of a sale order at creation.
	TypeInitialSaleValue TransactionType = "INITIAL_SALE_VALUE"
	// TypeInitialRentalValue records the full value of a rental order at creation.
	TypeInitialRentalValue TransactionType = "INITIAL_RENTAL_VALUE"
	// TypePaymentReceived records money actually received against an order.
	TypePaymentReceived TransactionType = "PAYMENT_RECEIVED"
)

// Transaction is an append-only ledger entry. Rows are never updated; the only
// deletion path is the cascade of an order deletion.
type Transaction struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	OrderCode       string          `json:"order_code"`
	Type            TransactionType `json:"type"`
	Category        string          `json:"category,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   *string         `json:"payment_method,omitempty"`
	Date            time.Time       `json:"date"`
	ProcessedByID   int64           `json:"processed_by_id"`
	ProcessedByName string          `json:"processed_by_name"`
	BranchID        *int64          `json:"branch_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
