package finance

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrImmutableLedger guards against accidental mutation paths.
var ErrImmutableLedger = errors.New("finance: ledger entries cannot be modified")

// Service provides ledger operations. Entries are append-only; the single
// deletion path is the order-deletion cascade.
type Service struct {
	repo  Repository
	cache *Cache
}

// NewService builds Service. cache may be nil.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Append records a ledger entry.
func (s *Service) Append(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.OrderID == 0 || tx.OrderCode == "" {
		return Transaction{}, errors.New("finance: order reference required")
	}
	if tx.Amount.IsNegative() {
		return Transaction{}, errors.New("finance: amount must be >= 0")
	}
	switch tx.Type {
	case TypeInitialSaleValue, TypeInitialRentalValue, TypePaymentReceived:
	default:
		return Transaction{}, errors.New("finance: unknown transaction type")
	}
	created, err := s.repo.Append(ctx, tx)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Type == TypePaymentReceived {
		s.cache.InvalidateBranch(ctx, tx.BranchID)
	}
	return created, nil
}

// ListByOrder returns an order's ledger entries in insertion order.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]Transaction, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// CascadeDelete removes an order's ledger entries during order deletion.
func (s *Service) CascadeDelete(ctx context.Context, orderID int64) (int64, error) {
	return s.repo.DeleteByOrder(ctx, orderID)
}

// Revenue sums payments received in a window, served from cache when fresh.
func (s *Service) Revenue(ctx context.Context, branchID *int64, from, to time.Time) (decimal.Decimal, error) {
	if total, ok := s.cache.GetRevenue(ctx, branchID, from, to); ok {
		return total, nil
	}
	total, err := s.repo.Revenue(ctx, branchID, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	s.cache.SetRevenue(ctx, branchID, from, to, total)
	return total, nil
}
