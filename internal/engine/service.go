package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atelier-erp/atelier/internal/catalog"
	"github.com/atelier-erp/atelier/internal/customers"
	"github.com/atelier-erp/atelier/internal/finance"
	"github.com/atelier-erp/atelier/internal/masterdata/branches"
	"github.com/atelier-erp/atelier/internal/shared"
)

// ProductStore provides product reads and the conditional counter updates.
type ProductStore interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
	ReserveRental(ctx context.Context, productID int64, qty int) (bool, error)
	CommitSale(ctx context.Context, productID int64, qty int) (bool, error)
	ReleaseRental(ctx context.Context, productID int64, qty int) error
	RestoreRental(ctx context.Context, productID int64, qty int) error
	RestoreSale(ctx context.Context, productID int64, qty int) error
}

// CustomerStore verifies customer references.
type CustomerStore interface {
	Get(ctx context.Context, id int64) (customers.Customer, error)
}

// BranchStore resolves branch names for error messages and order snapshots.
type BranchStore interface {
	Get(ctx context.Context, id int64) (branches.Branch, error)
}

// Ledger is the append-only financial transaction store.
type Ledger interface {
	Append(ctx context.Context, tx finance.Transaction) (finance.Transaction, error)
	ListByOrder(ctx context.Context, orderID int64) ([]finance.Transaction, error)
	CascadeDelete(ctx context.Context, orderID int64) (int64, error)
}

// CodeGenerator produces unique order codes.
type CodeGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// IdempotencyStore keeps per-item creation keys so retried partial creations
// never double-decrement stock.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

const idempotencyModule = "engine"

// ServiceConfig groups engine policy settings.
type ServiceConfig struct {
	// RestoreStockOnDelete reverts inventory counters when an order is
	// deleted. Off by default, matching the behaviour this engine replaces.
	RestoreStockOnDelete bool
}

// Service orchestrates order lifecycle operations across the order store,
// the product counters and the financial ledger.
type Service struct {
	logger      *slog.Logger
	repo        Repository
	products    ProductStore
	customers   CustomerStore
	branches    BranchStore
	ledger      Ledger
	codes       CodeGenerator
	idempotency IdempotencyStore
	cfg         ServiceConfig
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo Repository, products ProductStore, customerStore CustomerStore, branchStore BranchStore, ledger Ledger, codeGen CodeGenerator, idem IdempotencyStore, cfg ServiceConfig) *Service {
	return &Service{
		logger:      logger,
		repo:        repo,
		products:    products,
		customers:   customerStore,
		branches:    branchStore,
		ledger:      ledger,
		codes:       codeGen,
		idempotency: idem,
		cfg:         cfg,
	}
}

// CreateItemInput is one requested order line.
type CreateItemInput struct {
	ProductID int64
	Quantity  int
	// PriceOverride replaces the catalog price; only honoured for actors
	// holding price-edit authority.
	PriceOverride *decimal.Decimal
}

// CreateOrderRequest carries everything needed to create an order.
type CreateOrderRequest struct {
	CustomerID    int64
	SellerID      *int64
	Type          TransactionType
	OrderDate     time.Time
	DeliveryDate  time.Time
	ReturnDate    *time.Time
	Items         []CreateItemInput
	PaidAmount    decimal.Decimal
	PaymentMethod string
	BranchID      *int64
}

// Create validates the request, reserves inventory and records the order and
// its initial ledger entries. All validation happens before the first write;
// counter effects are idempotent per item so a failed creation can be retried
// or finished by the recovery sweep.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest, actor shared.Actor) (*Order, error) {
	order, err := s.validateCreate(ctx, req, actor)
	if err != nil {
		return nil, err
	}

	code, err := s.codes.Generate(ctx)
	if err != nil {
		return nil, storeWrite("generate order code", err)
	}
	order.Code = code

	order.Events = []Event{NewEvent(0, actor.ID, actor.Name, EventCreated, map[string]any{
		"total": order.Total.StringFixed(2),
		"type":  string(order.Type),
	})}
	if order.Paid.IsPositive() {
		order.Events = append(order.Events, NewEvent(0, actor.ID, actor.Name, EventPaymentReceived, map[string]any{
			"amount": order.Paid.StringFixed(2),
			"method": req.PaymentMethod,
		}))
	}

	stored, err := s.repo.Insert(ctx, *order)
	if err != nil {
		return nil, storeWrite("create order", err)
	}

	if err := s.applyCreationCounters(ctx, &stored); err != nil {
		// The order stays pending; the recovery sweep retries or abandons it.
		return nil, err
	}

	if err := s.appendInitialLedger(ctx, stored, req.PaymentMethod); err != nil {
		return nil, err
	}

	if err := s.repo.ClearPending(ctx, stored.ID); err != nil {
		return nil, storeWrite("finalise order", err)
	}
	stored.Pending = false

	s.logger.Info("order created",
		slog.String("code", stored.Code),
		slog.String("type", string(stored.Type)),
		slog.String("total", stored.Total.StringFixed(2)),
		slog.Int64("actor", actor.ID))
	return &stored, nil
}

func (s *Service) validateCreate(ctx context.Context, req CreateOrderRequest, actor shared.Actor) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, validationf("order requires at least one item")
	}
	if req.Type != TypeRental && req.Type != TypeSale {
		return nil, validationf("transaction type must be RENTAL or SALE")
	}

	if _, err := s.customers.Get(ctx, req.CustomerID); err != nil {
		if errors.Is(err, customers.ErrCustomerNotFound) {
			return nil, &NotFoundError{Entity: "customer", ID: req.CustomerID}
		}
		return nil, fmt.Errorf("verify customer: %w", err)
	}

	products := make(map[int64]catalog.Product, len(req.Items))
	for _, item := range req.Items {
		if _, ok := products[item.ProductID]; ok {
			continue
		}
		p, err := s.products.Get(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil, &NotFoundError{Entity: "product", ID: item.ProductID}
			}
			return nil, fmt.Errorf("get product %d: %w", item.ProductID, err)
		}
		products[item.ProductID] = p
	}

	branch := req.BranchID
	if branch == nil {
		branch = actor.BranchID
	}

	hasScoped := false
	for _, p := range products {
		if !p.IsGlobal {
			hasScoped = true
		}
	}
	if hasScoped && branch == nil {
		return nil, validationf("a branch is required when the order contains branch-scoped products")
	}

	for _, item := range req.Items {
		p := products[item.ProductID]
		if catalog.Orderable(p, branch, actor.Scope()) {
			continue
		}
		if !p.IsGlobal && p.BranchID != nil && branch != nil && *p.BranchID != *branch {
			return nil, &BranchMismatchError{
				ProductName:   p.Name,
				ProductBranch: s.branchName(ctx, p.BranchID),
				OrderBranch:   s.branchName(ctx, branch),
			}
		}
		return nil, validationf("product %q cannot be ordered into this branch", p.Name)
	}

	if req.DeliveryDate.Before(req.OrderDate) {
		return nil, validationf("delivery date must be on or after the order date")
	}
	if req.Type == TypeRental {
		if req.ReturnDate == nil {
			return nil, validationf("return date is required for rental orders")
		}
		if req.ReturnDate.Before(req.DeliveryDate) {
			return nil, validationf("return date must be on or after the delivery date")
		}
	}

	items := make([]OrderItem, 0, len(req.Items))
	for _, input := range req.Items {
		p := products[input.ProductID]
		if input.Quantity < 1 {
			return nil, validationf("quantity for %q must be at least 1", p.Name)
		}

		price := p.Price
		if input.PriceOverride != nil {
			if !actor.CanEditPrice {
				return nil, validationf("price override requires price-edit authority")
			}
			price = *input.PriceOverride
		}
		if !price.IsPositive() {
			return nil, validationf("price for %q must be greater than 0", p.Name)
		}

		items = append(items, OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			ProductCode: p.Code,
			Quantity:    input.Quantity,
			UnitPrice:   price,
		})
	}

	total := ItemTotal(items)
	if req.PaidAmount.IsNegative() {
		return nil, validationf("paid amount must be >= 0")
	}
	if req.PaidAmount.GreaterThan(total) {
		return nil, &BalanceConstraintError{Op: "initial payment", Amount: req.PaidAmount, Remaining: total}
	}
	if req.PaidAmount.IsPositive() && strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, validationf("payment method is required when an amount is paid")
	}

	// Stock sufficiency is validated here for a precise error; the counter
	// update re-checks it atomically at write time.
	for _, item := range items {
		p := products[item.ProductID]
		switch req.Type {
		case TypeRental:
			if p.Available() < item.Quantity {
				return nil, &InsufficientStockError{ProductName: p.Name, Type: req.Type, Requested: item.Quantity, Available: p.Available()}
			}
		case TypeSale:
			if p.QuantityInStock < item.Quantity {
				return nil, &InsufficientStockError{ProductName: p.Name, Type: req.Type, Requested: item.Quantity, Available: p.QuantityInStock}
			}
		}
	}

	returnDate := req.ReturnDate
	if req.Type == TypeSale {
		returnDate = nil
	}

	return &Order{
		Items:           items,
		CustomerID:      req.CustomerID,
		SellerID:        req.SellerID,
		ProcessedByID:   actor.ID,
		ProcessedByName: actor.Name,
		Type:            req.Type,
		OrderDate:       req.OrderDate,
		DeliveryDate:    req.DeliveryDate,
		ReturnDate:      returnDate,
		Total:           total,
		Discount:        decimal.Zero,
		Paid:            req.PaidAmount,
		Remaining:       total.Sub(req.PaidAmount),
		Status:          StatusOngoing,
		BranchID:        branch,
		BranchName:      s.branchName(ctx, branch),
		Pending:         true,
	}, nil
}

// applyCreationCounters applies the per-item stock effects. Each item is
// guarded by an idempotency key, so re-running after a partial failure skips
// the items already applied.
func (s *Service) applyCreationCounters(ctx context.Context, order *Order) error {
	for _, item := range order.Items {
		key := itemKey(order.Code, item.ProductID)
		err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule)
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			continue
		}
		if err != nil {
			return storeWrite("reserve stock", err)
		}

		var ok bool
		switch order.Type {
		case TypeRental:
			ok, err = s.products.ReserveRental(ctx, item.ProductID, item.Quantity)
		case TypeSale:
			ok, err = s.products.CommitSale(ctx, item.ProductID, item.Quantity)
		}
		if err != nil {
			_ = s.idempotency.Delete(ctx, key)
			return storeWrite("update stock counters", err)
		}
		if !ok {
			_ = s.idempotency.Delete(ctx, key)
			available := 0
			if p, perr := s.products.Get(ctx, item.ProductID); perr == nil {
				if order.Type == TypeRental {
					available = p.Available()
				} else {
					available = p.QuantityInStock
				}
			}
			return &InsufficientStockError{ProductName: item.ProductName, Type: order.Type, Requested: item.Quantity, Available: available}
		}
	}
	return nil
}

func (s *Service) appendInitialLedger(ctx context.Context, order Order, paymentMethod string) error {
	initialType := finance.TypeInitialSaleValue
	if order.Type == TypeRental {
		initialType = finance.TypeInitialRentalValue
	}
	_, err := s.ledger.Append(ctx, finance.Transaction{
		OrderID:         order.ID,
		OrderCode:       order.Code,
		Type:            initialType,
		Category:        string(order.Type),
		Amount:          order.Total,
		Date:            order.OrderDate,
		ProcessedByID:   order.ProcessedByID,
		ProcessedByName: order.ProcessedByName,
		BranchID:        order.BranchID,
	})
	if err != nil {
		return storeWrite("record initial value", err)
	}

	if order.Paid.IsPositive() {
		method := paymentMethod
		_, err := s.ledger.Append(ctx, finance.Transaction{
			OrderID:         order.ID,
			OrderCode:       order.Code,
			Type:            finance.TypePaymentReceived,
			Category:        string(order.Type),
			Amount:          order.Paid,
			PaymentMethod:   &method,
			Date:            order.OrderDate,
			ProcessedByID:   order.ProcessedByID,
			ProcessedByName: order.ProcessedByName,
			BranchID:        order.BranchID,
		})
		if err != nil {
			return storeWrite("record initial payment", err)
		}
	}
	return nil
}

// ApplyDiscount reduces the remaining amount. The balance and status guards
// are re-checked inside the update statement to close the race window between
// read and write.
func (s *Service) ApplyDiscount(ctx context.Context, orderID int64, amount decimal.Decimal, reason string, actor shared.Actor) (*Order, error) {
	if !amount.IsPositive() {
		return nil, validationf("discount amount must be greater than 0")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, validationf("a discount requires a reason")
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == StatusDelivered || order.Status == StatusCompleted {
		return nil, &StatusConstraintError{Op: "discount", Status: order.Status}
	}

	ok, err := s.repo.ApplyDiscount(ctx, orderID, amount)
	if err != nil {
		return nil, storeWrite("apply discount", err)
	}
	if !ok {
		current, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current.Status == StatusDelivered || current.Status == StatusCompleted {
			return nil, &StatusConstraintError{Op: "discount", Status: current.Status}
		}
		return nil, &BalanceConstraintError{Op: "discount", Amount: amount, Remaining: current.Remaining}
	}

	s.appendEvent(ctx, NewEvent(orderID, actor.ID, actor.Name, EventDiscountApplied, map[string]any{
		"amount": amount.StringFixed(2),
		"reason": reason,
	}))
	return s.reload(ctx, orderID)
}

// AddPayment records money received against the order. Payments are accepted
// in any status so a balance can be settled at any stage.
func (s *Service) AddPayment(ctx context.Context, orderID int64, amount decimal.Decimal, method string, actor shared.Actor) (*Order, error) {
	if !amount.IsPositive() {
		return nil, validationf("payment amount must be greater than 0")
	}
	if strings.TrimSpace(method) == "" {
		return nil, validationf("a payment requires a payment method")
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.ApplyPayment(ctx, orderID, amount)
	if err != nil {
		return nil, storeWrite("apply payment", err)
	}
	if !ok {
		current, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &BalanceConstraintError{Op: "payment", Amount: amount, Remaining: current.Remaining}
	}

	if _, err := s.ledger.Append(ctx, finance.Transaction{
		OrderID:         order.ID,
		OrderCode:       order.Code,
		Type:            finance.TypePaymentReceived,
		Category:        string(order.Type),
		Amount:          amount,
		PaymentMethod:   &method,
		Date:            time.Now(),
		ProcessedByID:   actor.ID,
		ProcessedByName: actor.Name,
		BranchID:        order.BranchID,
	}); err != nil {
		// The balance is already moved; surface the ledger failure instead
		// of hiding it, the caller can re-run reconciliation.
		return nil, storeWrite("record payment", err)
	}

	s.appendEvent(ctx, NewEvent(orderID, actor.ID, actor.Name, EventPaymentReceived, map[string]any{
		"amount": amount.StringFixed(2),
		"method": method,
	}))
	return s.reload(ctx, orderID)
}

// MarkPrepared moves ONGOING to PREPARED.
func (s *Service) MarkPrepared(ctx context.Context, orderID int64, actor shared.Actor) (*Order, error) {
	ok, err := s.repo.TransitionStatus(ctx, orderID, StatusOngoing, StatusPrepared)
	if err != nil {
		return nil, storeWrite("mark prepared", err)
	}
	if !ok {
		current, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &StatusConstraintError{Op: "prepare", Status: current.Status}
	}

	s.appendEvent(ctx, NewEvent(orderID, actor.ID, actor.Name, EventPrepared, nil))
	return s.reload(ctx, orderID)
}

// MarkDelivered moves PREPARED to DELIVERED. The balance must be settled
// first; inventory was already reserved at creation.
func (s *Service) MarkDelivered(ctx context.Context, orderID int64, actor shared.Actor) (*Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Settled() {
		return nil, &BalanceConstraintError{Op: "deliver", Remaining: order.Remaining}
	}

	ok, err := s.repo.TransitionStatus(ctx, orderID, StatusPrepared, StatusDelivered)
	if err != nil {
		return nil, storeWrite("mark delivered", err)
	}
	if !ok {
		current, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &StatusConstraintError{Op: "deliver", Status: current.Status}
	}

	s.appendEvent(ctx, NewEvent(orderID, actor.ID, actor.Name, EventDelivered, nil))
	return s.reload(ctx, orderID)
}

// PaymentInput is an optional final payment taken together with a return.
type PaymentInput struct {
	Amount decimal.Decimal
	Method string
}

// ReturnRequest carries the inspection outcome of a rental return.
type ReturnRequest struct {
	Condition    ReturnCondition
	Note         string
	FinalPayment *PaymentInput
}

// ReceiveReturn completes a delivered rental: optional final payment, then a
// compare-and-set transition to COMPLETED gating the counter release, so a
// duplicate call cannot release stock twice.
func (s *Service) ReceiveReturn(ctx context.Context, orderID int64, req ReturnRequest, actor shared.Actor) (*Order, error) {
	if req.Condition != ConditionGood && req.Condition != ConditionDamaged {
		return nil, validationf("return condition must be GOOD or DAMAGED")
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Type != TypeRental {
		return nil, validationf("returns apply to rental orders only")
	}
	if order.Status != StatusDelivered {
		return nil, &StatusConstraintError{Op: "receive return", Status: order.Status}
	}

	if req.FinalPayment != nil {
		if _, err := s.AddPayment(ctx, orderID, req.FinalPayment.Amount, req.FinalPayment.Method, actor); err != nil {
			return nil, err
		}
	}

	ok, err := s.repo.TransitionStatus(ctx, orderID, StatusDelivered, StatusCompleted)
	if err != nil {
		return nil, storeWrite("complete order", err)
	}
	if !ok {
		current, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &StatusConstraintError{Op: "receive return", Status: current.Status}
	}

	for _, item := range order.Items {
		if err := s.products.ReleaseRental(ctx, item.ProductID, item.Quantity); err != nil {
			// The order is already completed; log and continue so remaining
			// items are still released.
			s.logger.Error("release rental stock",
				slog.Any("error", err),
				slog.String("order", order.Code),
				slog.Int64("product", item.ProductID))
		}
	}

	payload := map[string]any{"condition": string(req.Condition)}
	if req.Note != "" {
		payload["note"] = req.Note
	}
	s.appendEvent(ctx, NewEvent(orderID, actor.ID, actor.Name, EventReturned, payload))
	return s.reload(ctx, orderID)
}

// Delete removes an order and cascades into its ledger entries. Inventory
// counters are only reverted when RestoreStockOnDelete is set; the default
// mirrors the system this engine replaces, which leaves reservations behind.
func (s *Service) Delete(ctx context.Context, orderID int64, actor shared.Actor) error {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Deletable() {
		return &StatusConstraintError{Op: "delete", Status: order.Status}
	}

	if s.cfg.RestoreStockOnDelete {
		for _, item := range order.Items {
			var rerr error
			switch order.Type {
			case TypeRental:
				rerr = s.products.RestoreRental(ctx, item.ProductID, item.Quantity)
			case TypeSale:
				rerr = s.products.RestoreSale(ctx, item.ProductID, item.Quantity)
			}
			if rerr != nil {
				s.logger.Error("restore stock on delete",
					slog.Any("error", rerr),
					slog.String("order", order.Code),
					slog.Int64("product", item.ProductID))
			}
		}
	}

	removed, err := s.ledger.CascadeDelete(ctx, orderID)
	if err != nil {
		return storeWrite("cascade ledger delete", err)
	}

	if err := s.repo.Delete(ctx, orderID); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return &NotFoundError{Entity: "order", ID: orderID}
		}
		return storeWrite("delete order", err)
	}

	if err := s.idempotency.DeleteByPrefix(ctx, "order:"+order.Code+":"); err != nil {
		s.logger.Warn("release idempotency keys", slog.Any("error", err), slog.String("order", order.Code))
	}

	s.logger.Info("order deleted",
		slog.String("code", order.Code),
		slog.Int64("ledger_rows_removed", removed),
		slog.Bool("stock_restored", s.cfg.RestoreStockOnDelete),
		slog.Int64("actor", actor.ID))
	return nil
}

// Get returns one order with items and audit trail.
func (s *Service) Get(ctx context.Context, orderID int64) (*Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// List returns orders under the actor's branch scope.
func (s *Service) List(ctx context.Context, filters ListFilters, actor shared.Actor) ([]Order, int, error) {
	if scope := actor.Scope(); scope != nil {
		filters.BranchID = scope
	}
	return s.repo.List(ctx, filters)
}

// RecoverPending finishes creations that crashed between their first write
// and finalisation. Counter effects are retried idempotently and the initial
// ledger row re-checked; creations that can no longer reserve stock are
// abandoned and cleaned up. Orders are independent, so the sweep works a few
// of them at a time.
func (s *Service) RecoverPending(ctx context.Context, olderThan time.Duration) (recovered, abandoned int, err error) {
	cutoff := time.Now().Add(-olderThan)
	orders, err := s.repo.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending orders: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, order := range orders {
		order := order
		g.Go(func() error {
			switch s.recoverOne(gctx, order) {
			case recoverOutcomeRecovered:
				mu.Lock()
				recovered++
				mu.Unlock()
			case recoverOutcomeAbandoned:
				mu.Lock()
				abandoned++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return recovered, abandoned, nil
}

type recoverOutcome int

const (
	recoverOutcomeSkipped recoverOutcome = iota
	recoverOutcomeRecovered
	recoverOutcomeAbandoned
)

func (s *Service) recoverOne(ctx context.Context, order Order) recoverOutcome {
	if err := s.applyCreationCounters(ctx, &order); err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			s.logger.Warn("abandoning pending order, stock no longer available",
				slog.String("code", order.Code),
				slog.String("product", stockErr.ProductName))
			if derr := s.abandonPending(ctx, order); derr != nil {
				s.logger.Error("abandon pending order", slog.Any("error", derr), slog.String("code", order.Code))
				return recoverOutcomeSkipped
			}
			return recoverOutcomeAbandoned
		}
		s.logger.Error("recover pending order", slog.Any("error", err), slog.String("code", order.Code))
		return recoverOutcomeSkipped
	}

	if err := s.ensureInitialLedger(ctx, order); err != nil {
		s.logger.Error("recover pending ledger", slog.Any("error", err), slog.String("code", order.Code))
		return recoverOutcomeSkipped
	}

	if err := s.repo.ClearPending(ctx, order.ID); err != nil {
		s.logger.Error("clear pending flag", slog.Any("error", err), slog.String("code", order.Code))
		return recoverOutcomeSkipped
	}
	return recoverOutcomeRecovered
}

// abandonPending undoes a creation that can no longer complete. Items whose
// idempotency key is present already hit the counters and are reverted before
// the order disappears; an abandoned creation must leave no reservation
// behind, whatever the delete policy says.
func (s *Service) abandonPending(ctx context.Context, order Order) error {
	for _, item := range order.Items {
		key := itemKey(order.Code, item.ProductID)
		applied, err := s.idempotency.Exists(ctx, key)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}
		switch order.Type {
		case TypeRental:
			err = s.products.RestoreRental(ctx, item.ProductID, item.Quantity)
		case TypeSale:
			err = s.products.RestoreSale(ctx, item.ProductID, item.Quantity)
		}
		if err != nil {
			return err
		}
		// Drop the key with its counter so a re-run cannot revert twice.
		if err := s.idempotency.Delete(ctx, key); err != nil {
			return err
		}
	}

	if _, err := s.ledger.CascadeDelete(ctx, order.ID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, order.ID); err != nil && !errors.Is(err, ErrOrderNotFound) {
		return err
	}
	return s.idempotency.DeleteByPrefix(ctx, "order:"+order.Code+":")
}

func (s *Service) ensureInitialLedger(ctx context.Context, order Order) error {
	txs, err := s.ledger.ListByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.Type == finance.TypeInitialSaleValue || tx.Type == finance.TypeInitialRentalValue {
			return nil
		}
	}
	return s.appendInitialLedger(ctx, order, "")
}

func (s *Service) getOrder(ctx context.Context, orderID int64) (*Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, &NotFoundError{Entity: "order", ID: orderID}
		}
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return &order, nil
}

func (s *Service) reload(ctx context.Context, orderID int64) (*Order, error) {
	return s.getOrder(ctx, orderID)
}

// appendEvent writes an audit event. The state change already happened, so a
// failure here is logged rather than rolled back.
func (s *Service) appendEvent(ctx context.Context, event Event) {
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		s.logger.Error("append audit event",
			slog.Any("error", err),
			slog.Int64("order", event.OrderID),
			slog.String("kind", string(event.Kind)))
	}
}

func (s *Service) branchName(ctx context.Context, branchID *int64) string {
	if branchID == nil {
		return ""
	}
	branch, err := s.branches.Get(ctx, *branchID)
	if err != nil {
		return fmt.Sprintf("branch %d", *branchID)
	}
	return branch.Name
}

func itemKey(orderCode string, productID int64) string {
	return fmt.Sprintf("order:%s:item:%d", orderCode, productID)
}
