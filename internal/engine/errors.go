package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed or missing input. The operation aborts
// before any write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// BranchMismatchError reports an item whose home branch does not match the
// order's branch. Carries display names for the presentation layer.
type BranchMismatchError struct {
	ProductName   string
	ProductBranch string
	OrderBranch   string
}

func (e *BranchMismatchError) Error() string {
	return fmt.Sprintf("product %q belongs to branch %q, order is for branch %q", e.ProductName, e.ProductBranch, e.OrderBranch)
}

// InsufficientStockError reports a requested quantity above what is available
// for the transaction type.
type InsufficientStockError struct {
	ProductName string
	Type        TransactionType
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s of %q: requested %d, available %d", e.Type, e.ProductName, e.Requested, e.Available)
}

// BalanceConstraintError reports an amount that violates the order balance:
// payment or discount above the remaining amount, or delivery with a balance
// still owed.
type BalanceConstraintError struct {
	Op        string
	Amount    decimal.Decimal
	Remaining decimal.Decimal
}

func (e *BalanceConstraintError) Error() string {
	if e.Op == "deliver" {
		return fmt.Sprintf("cannot deliver: %s still owed, settle balance first", e.Remaining.StringFixed(2))
	}
	return fmt.Sprintf("%s of %s exceeds remaining amount %s", e.Op, e.Amount.StringFixed(2), e.Remaining.StringFixed(2))
}

// StatusConstraintError reports an operation attempted in a status that
// forbids it.
type StatusConstraintError struct {
	Op     string
	Status Status
}

func (e *StatusConstraintError) Error() string {
	return fmt.Sprintf("cannot %s an order in status %s", e.Op, e.Status)
}

// NotFoundError reports a referenced record that vanished between read and
// write.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// StoreWriteError wraps an underlying persistence failure. The engine never
// retries it; the caller may retry the whole operation.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed during %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

func storeWrite(op string, err error) error {
	return &StoreWriteError{Op: op, Err: err}
}
