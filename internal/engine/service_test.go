package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atelier-erp/atelier/internal/catalog"
	"github.com/atelier-erp/atelier/internal/customers"
	"github.com/atelier-erp/atelier/internal/finance"
	"github.com/atelier-erp/atelier/internal/masterdata/branches"
	"github.com/atelier-erp/atelier/internal/shared"
)

type memOrderRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[int64]*Order)}
}

func (r *memOrderRepo) Get(_ context.Context, id int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(*o), nil
}

func (r *memOrderRepo) GetByCode(_ context.Context, code string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Code == code {
			return cloneOrder(*o), nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (r *memOrderRepo) CodeExists(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *memOrderRepo) List(_ context.Context, filters ListFilters) ([]Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if filters.Status != nil && o.Status != *filters.Status {
			continue
		}
		if filters.Type != nil && o.Type != *filters.Type {
			continue
		}
		if filters.BranchID != nil && (o.BranchID == nil || *o.BranchID != *filters.BranchID) {
			continue
		}
		if filters.OverdueOnly {
			if o.Type != TypeRental || o.Status != StatusDelivered || o.ReturnDate == nil || !o.ReturnDate.Before(time.Now()) {
				continue
			}
		}
		out = append(out, cloneOrder(*o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memOrderRepo) ListPendingBefore(_ context.Context, cutoff time.Time) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.Pending && !o.CreatedAt.After(cutoff) {
			out = append(out, cloneOrder(*o))
		}
	}
	return out, nil
}

func (r *memOrderRepo) Insert(_ context.Context, order Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	for i := range order.Items {
		order.Items[i].ID = int64(i + 1)
		order.Items[i].OrderID = order.ID
	}
	for i := range order.Events {
		order.Events[i].OrderID = order.ID
	}
	stored := cloneOrder(order)
	r.orders[order.ID] = &stored
	return cloneOrder(stored), nil
}

func (r *memOrderRepo) ClearPending(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Pending = false
	return nil
}

func (r *memOrderRepo) ApplyDiscount(_ context.Context, id int64, amount decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if o.Status == StatusDelivered || o.Status == StatusCompleted {
		return false, nil
	}
	if o.Remaining.LessThan(amount) {
		return false, nil
	}
	o.Discount = o.Discount.Add(amount)
	o.Remaining = o.Remaining.Sub(amount)
	return true, nil
}

func (r *memOrderRepo) ApplyPayment(_ context.Context, id int64, amount decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if o.Remaining.LessThan(amount) {
		return false, nil
	}
	o.Paid = o.Paid.Add(amount)
	o.Remaining = o.Remaining.Sub(amount)
	return true, nil
}

func (r *memOrderRepo) TransitionStatus(_ context.Context, id int64, from, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (r *memOrderRepo) AppendEvent(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[event.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Events = append(o.Events, event)
	return nil
}

func (r *memOrderRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(r.orders, id)
	return nil
}

func cloneOrder(o Order) Order {
	items := make([]OrderItem, len(o.Items))
	copy(items, o.Items)
	events := make([]Event, len(o.Events))
	copy(events, o.Events)
	o.Items = items
	o.Events = events
	return o
}

type memProducts struct {
	mu       sync.Mutex
	products map[int64]*catalog.Product
}

func newMemProducts(products ...catalog.Product) *memProducts {
	m := &memProducts{products: make(map[int64]*catalog.Product)}
	for _, p := range products {
		p := p
		m.products[p.ID] = &p
	}
	return m
}

func (m *memProducts) Get(_ context.Context, id int64) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return *p, nil
}

func (m *memProducts) ReserveRental(_ context.Context, productID int64, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return false, nil
	}
	if p.QuantityInStock-p.QuantityRented < qty {
		return false, nil
	}
	p.QuantityRented += qty
	return true, nil
}

func (m *memProducts) CommitSale(_ context.Context, productID int64, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return false, nil
	}
	if p.QuantityInStock < qty {
		return false, nil
	}
	p.QuantityInStock -= qty
	p.QuantitySold += qty
	if p.QuantityInStock == 0 {
		p.Status = catalog.StatusSold
	}
	return true, nil
}

func (m *memProducts) ReleaseRental(_ context.Context, productID int64, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.QuantityRented -= qty
	if p.QuantityRented < 0 {
		p.QuantityRented = 0
	}
	return nil
}

func (m *memProducts) RestoreRental(ctx context.Context, productID int64, qty int) error {
	return m.ReleaseRental(ctx, productID, qty)
}

func (m *memProducts) RestoreSale(_ context.Context, productID int64, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.QuantityInStock += qty
	p.QuantitySold -= qty
	if p.QuantitySold < 0 {
		p.QuantitySold = 0
	}
	if p.Status == catalog.StatusSold && p.QuantityInStock > 0 {
		p.Status = catalog.StatusAvailable
	}
	return nil
}

type memCustomers struct {
	known map[int64]customers.Customer
}

func (m *memCustomers) Get(_ context.Context, id int64) (customers.Customer, error) {
	c, ok := m.known[id]
	if !ok {
		return customers.Customer{}, customers.ErrCustomerNotFound
	}
	return c, nil
}

type memBranches struct {
	known map[int64]branches.Branch
}

func (m *memBranches) Get(_ context.Context, id int64) (branches.Branch, error) {
	b, ok := m.known[id]
	if !ok {
		return branches.Branch{}, branches.ErrBranchNotFound
	}
	return b, nil
}

type memLedger struct {
	mu     sync.Mutex
	nextID int64
	rows   []finance.Transaction
}

func (m *memLedger) Append(_ context.Context, tx finance.Transaction) (finance.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	tx.ID = m.nextID
	m.rows = append(m.rows, tx)
	return tx, nil
}

func (m *memLedger) ListByOrder(_ context.Context, orderID int64) ([]finance.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []finance.Transaction
	for _, tx := range m.rows {
		if tx.OrderID == orderID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memLedger) CascadeDelete(_ context.Context, orderID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []finance.Transaction
	var removed int64
	for _, tx := range m.rows {
		if tx.OrderID == orderID {
			removed++
			continue
		}
		kept = append(kept, tx)
	}
	m.rows = kept
	return removed, nil
}

type stubCodes struct {
	mu sync.Mutex
	n  int
}

func (s *stubCodes) Generate(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("ORD-%06d", s.n), nil
}

type memIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemIdem() *memIdem { return &memIdem{keys: make(map[string]bool)} }

func (m *memIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memIdem) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memIdem) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memIdem) DeleteByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.keys {
		if strings.HasPrefix(k, prefix) {
			delete(m.keys, k)
		}
	}
	return nil
}

type engineFixture struct {
	service  *Service
	repo     *memOrderRepo
	products *memProducts
	ledger   *memLedger
	idem     *memIdem
}

func newFixture(t *testing.T, cfg ServiceConfig, products ...catalog.Product) *engineFixture {
	t.Helper()
	if len(products) == 0 {
		products = []catalog.Product{
			{ID: 1, Code: "PRD-000001", Name: "Silk Gown", Price: decimal.NewFromInt(200), Category: catalog.CategoryRental, Status: catalog.StatusAvailable, QuantityInStock: 5, IsGlobal: true},
			{ID: 2, Code: "PRD-000002", Name: "Veil", Price: decimal.NewFromInt(50), Category: catalog.CategorySale, Status: catalog.StatusAvailable, QuantityInStock: 3, IsGlobal: true},
		}
	}

	f := &engineFixture{
		repo:     newMemOrderRepo(),
		products: newMemProducts(products...),
		ledger:   &memLedger{},
		idem:     newMemIdem(),
	}

	branchID := int64(1)
	otherBranch := int64(2)
	f.service = NewService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		f.repo,
		f.products,
		&memCustomers{known: map[int64]customers.Customer{10: {ID: 10, Name: "Ana"}}},
		&memBranches{known: map[int64]branches.Branch{
			branchID:    {ID: branchID, Name: "Downtown"},
			otherBranch: {ID: otherBranch, Name: "Uptown"},
		}},
		f.ledger,
		&stubCodes{},
		f.idem,
		cfg,
	)
	return f
}

func testActor() shared.Actor {
	return shared.Actor{ID: 7, Name: "Clerk", AllBranches: true}
}

func rentalRequest() CreateOrderRequest {
	orderDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	returnDate := orderDate.AddDate(0, 0, 10)
	return CreateOrderRequest{
		CustomerID:   10,
		Type:         TypeRental,
		OrderDate:    orderDate,
		DeliveryDate: orderDate.AddDate(0, 0, 3),
		ReturnDate:   &returnDate,
		Items:        []CreateItemInput{{ProductID: 1, Quantity: 2}},
	}
}

func saleRequest() CreateOrderRequest {
	orderDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return CreateOrderRequest{
		CustomerID:   10,
		Type:         TypeSale,
		OrderDate:    orderDate,
		DeliveryDate: orderDate,
		Items:        []CreateItemInput{{ProductID: 2, Quantity: 3}},
	}
}

func TestCreateRentalReservesStock(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	req := rentalRequest()
	req.PaidAmount = decimal.NewFromInt(100)
	req.PaymentMethod = "CASH"

	order, err := f.service.Create(ctx, req, testActor())
	require.NoError(t, err)

	require.Equal(t, "ORD-000001", order.Code)
	require.Equal(t, StatusOngoing, order.Status)
	require.False(t, order.Pending)
	require.True(t, order.Total.Equal(decimal.NewFromInt(400)))
	require.True(t, order.Remaining.Equal(decimal.NewFromInt(300)))

	p, err := f.products.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, p.QuantityRented)
	require.Equal(t, 5, p.QuantityInStock)

	rows, err := f.ledger.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, finance.TypeInitialRentalValue, rows[0].Type)
	require.Equal(t, finance.TypePaymentReceived, rows[1].Type)
	require.True(t, rows[0].Amount.Equal(decimal.NewFromInt(400)))
}

func TestCreateSaleExhaustsStock(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	_, err := f.service.Create(ctx, saleRequest(), testActor())
	require.NoError(t, err)

	p, err := f.products.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 0, p.QuantityInStock)
	require.Equal(t, 3, p.QuantitySold)
	require.Equal(t, catalog.StatusSold, p.Status)

	next := saleRequest()
	next.Items[0].Quantity = 1
	_, err = f.service.Create(ctx, next, testActor())
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 0, stockErr.Available)
}

func TestCreateInsufficientStock(t *testing.T) {
	f := newFixture(t, ServiceConfig{})

	req := rentalRequest()
	req.Items[0].Quantity = 6

	_, err := f.service.Create(context.Background(), req, testActor())
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 6, stockErr.Requested)
	require.Equal(t, 5, stockErr.Available)
}

func TestCreateRentalAvailabilityExcludesRented(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	first := rentalRequest()
	first.Items[0].Quantity = 4
	_, err := f.service.Create(ctx, first, testActor())
	require.NoError(t, err)

	second := rentalRequest()
	second.Items[0].Quantity = 2
	_, err = f.service.Create(ctx, second, testActor())
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 1, stockErr.Available)
}

func TestCreateBranchMismatch(t *testing.T) {
	branch1, branch2 := int64(1), int64(2)
	f := newFixture(t, ServiceConfig{},
		catalog.Product{ID: 3, Name: "Fitted Suit", Price: decimal.NewFromInt(150), Category: catalog.CategoryRental, Status: catalog.StatusAvailable, QuantityInStock: 2, BranchID: &branch1},
	)

	req := rentalRequest()
	req.Items = []CreateItemInput{{ProductID: 3, Quantity: 1}}
	req.BranchID = &branch2

	_, err := f.service.Create(context.Background(), req, testActor())
	var branchErr *BranchMismatchError
	require.ErrorAs(t, err, &branchErr)
	require.Equal(t, "Fitted Suit", branchErr.ProductName)
	require.Equal(t, "Downtown", branchErr.ProductBranch)
	require.Equal(t, "Uptown", branchErr.OrderBranch)
}

func TestCreateBranchRequiredForScopedProducts(t *testing.T) {
	branch1 := int64(1)
	f := newFixture(t, ServiceConfig{},
		catalog.Product{ID: 3, Name: "Fitted Suit", Price: decimal.NewFromInt(150), Category: catalog.CategoryRental, Status: catalog.StatusAvailable, QuantityInStock: 2, BranchID: &branch1},
	)

	req := rentalRequest()
	req.Items = []CreateItemInput{{ProductID: 3, Quantity: 1}}

	_, err := f.service.Create(context.Background(), req, testActor())
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateValidationOrder(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	actor := testActor()

	t.Run("unknown customer", func(t *testing.T) {
		req := rentalRequest()
		req.CustomerID = 99
		_, err := f.service.Create(ctx, req, actor)
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		require.Equal(t, "customer", notFound.Entity)
	})

	t.Run("rental without return date", func(t *testing.T) {
		req := rentalRequest()
		req.ReturnDate = nil
		_, err := f.service.Create(ctx, req, actor)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("delivery before order date", func(t *testing.T) {
		req := rentalRequest()
		req.DeliveryDate = req.OrderDate.AddDate(0, 0, -1)
		_, err := f.service.Create(ctx, req, actor)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("overpayment at creation", func(t *testing.T) {
		req := rentalRequest()
		req.PaidAmount = decimal.NewFromInt(1000)
		req.PaymentMethod = "CASH"
		_, err := f.service.Create(ctx, req, actor)
		var balanceErr *BalanceConstraintError
		require.ErrorAs(t, err, &balanceErr)
	})

	t.Run("payment without method", func(t *testing.T) {
		req := rentalRequest()
		req.PaidAmount = decimal.NewFromInt(10)
		_, err := f.service.Create(ctx, req, actor)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("no writes on validation failure", func(t *testing.T) {
		p, err := f.products.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 0, p.QuantityRented)
		require.Empty(t, f.ledger.rows)
	})
}

func TestCreatePriceOverrideRequiresAuthority(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	override := decimal.NewFromInt(120)
	req := rentalRequest()
	req.Items[0].PriceOverride = &override

	_, err := f.service.Create(ctx, req, testActor())
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	actor := testActor()
	actor.CanEditPrice = true
	order, err := f.service.Create(ctx, req, actor)
	require.NoError(t, err)
	require.True(t, order.Total.Equal(decimal.NewFromInt(240)))
}

func TestCreateSkipsAlreadyAppliedItems(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	// Key already present simulates a retried creation whose counter effect
	// was applied before the crash.
	require.NoError(t, f.idem.CheckAndInsert(ctx, "order:ORD-000001:item:1", "engine"))

	_, err := f.service.Create(ctx, rentalRequest(), testActor())
	require.NoError(t, err)

	p, err := f.products.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 0, p.QuantityRented)
}

func TestApplyDiscount(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	actor := testActor()

	order, err := f.service.Create(ctx, rentalRequest(), actor)
	require.NoError(t, err)

	t.Run("reduces remaining", func(t *testing.T) {
		updated, err := f.service.ApplyDiscount(ctx, order.ID, decimal.NewFromInt(100), "loyal customer", actor)
		require.NoError(t, err)
		require.True(t, updated.Discount.Equal(decimal.NewFromInt(100)))
		require.True(t, updated.Remaining.Equal(decimal.NewFromInt(300)))
	})

	t.Run("requires a reason", func(t *testing.T) {
		_, err := f.service.ApplyDiscount(ctx, order.ID, decimal.NewFromInt(10), "  ", actor)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("exceeding remaining rejected", func(t *testing.T) {
		_, err := f.service.ApplyDiscount(ctx, order.ID, decimal.NewFromInt(500), "too much", actor)
		var balanceErr *BalanceConstraintError
		require.ErrorAs(t, err, &balanceErr)
		require.True(t, balanceErr.Remaining.Equal(decimal.NewFromInt(300)))
	})

	t.Run("recorded in audit trail", func(t *testing.T) {
		current, err := f.service.Get(ctx, order.ID)
		require.NoError(t, err)
		require.Contains(t, RenderNotes(current.Events), "discount 100.00 applied (loyal customer)")
	})
}

func TestAddPayment(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	actor := testActor()

	order, err := f.service.Create(ctx, rentalRequest(), actor)
	require.NoError(t, err)

	updated, err := f.service.AddPayment(ctx, order.ID, decimal.NewFromInt(150), "CARD", actor)
	require.NoError(t, err)
	require.True(t, updated.Paid.Equal(decimal.NewFromInt(150)))
	require.True(t, updated.Remaining.Equal(decimal.NewFromInt(250)))

	_, err = f.service.AddPayment(ctx, order.ID, decimal.NewFromInt(300), "CARD", actor)
	var balanceErr *BalanceConstraintError
	require.ErrorAs(t, err, &balanceErr)

	rows, err := f.ledger.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	payments := 0
	for _, row := range rows {
		if row.Type == finance.TypePaymentReceived {
			payments++
		}
	}
	require.Equal(t, 1, payments)
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	actor := testActor()

	order, err := f.service.Create(ctx, rentalRequest(), actor)
	require.NoError(t, err)

	t.Run("deliver before prepare rejected", func(t *testing.T) {
		_, err := f.service.MarkDelivered(ctx, order.ID, actor)
		var balanceErr *BalanceConstraintError
		require.ErrorAs(t, err, &balanceErr)

		_, err = f.service.AddPayment(ctx, order.ID, decimal.NewFromInt(400), "CASH", actor)
		require.NoError(t, err)

		_, err = f.service.MarkDelivered(ctx, order.ID, actor)
		var statusErr *StatusConstraintError
		require.ErrorAs(t, err, &statusErr)
	})

	t.Run("prepare then deliver", func(t *testing.T) {
		updated, err := f.service.MarkPrepared(ctx, order.ID, actor)
		require.NoError(t, err)
		require.Equal(t, StatusPrepared, updated.Status)

		updated, err = f.service.MarkDelivered(ctx, order.ID, actor)
		require.NoError(t, err)
		require.Equal(t, StatusDelivered, updated.Status)
	})

	t.Run("prepare twice rejected", func(t *testing.T) {
		_, err := f.service.MarkPrepared(ctx, order.ID, actor)
		var statusErr *StatusConstraintError
		require.ErrorAs(t, err, &statusErr)
	})
}

func TestDeliverRequiresSettledBalance(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	actor := testActor()

	order, err := f.service.Create(ctx, rentalRequest(), actor)
	require.NoError(t, err)

	_, err = f.service.MarkPrepared(ctx, order.ID, actor)
	require.NoError(t, err)

	_, err = f.service.MarkDelivered(ctx, order.ID, actor)
	var balanceErr *BalanceConstraintError
	require.ErrorAs(t, err, &balanceErr)
	require.True(t, balanceErr.Remaining.Equal(decimal.NewFromInt(400)))
}

func TestReceiveReturn(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	actor := testActor()

	order, err := f.service.Create(ctx, rentalRequest(), actor)
	require.NoError(t, err)
	_, err = f.service.AddPayment(ctx, order.ID, decimal.NewFromInt(400), "CASH", actor)
	require.NoError(t, err)
	_, err = f.service.MarkPrepared(ctx, order.ID, actor)
	require.NoError(t, err)
	_, err = f.service.MarkDelivered(ctx, order.ID, actor)
	require.NoError(t, err)

	t.Run("completes and releases stock", func(t *testing.T) {
		updated, err := f.service.ReceiveReturn(ctx, order.ID, ReturnRequest{Condition: ConditionDamaged, Note: "torn hem"}, actor)
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, updated.Status)

		p, err := f.products.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 0, p.QuantityRented)

		require.Contains(t, RenderNotes(updated.Events), "return received, condition DAMAGED (torn hem)")
	})

	t.Run("second return rejected", func(t *testing.T) {
		_, err := f.service.ReceiveReturn(ctx, order.ID, ReturnRequest{Condition: ConditionGood}, actor)
		var statusErr *StatusConstraintError
		require.ErrorAs(t, err, &statusErr)
	})
}

func TestReceiveReturnGuards(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	actor := testActor()

	t.Run("sale orders have no return", func(t *testing.T) {
		order, err := f.service.Create(ctx, saleRequest(), actor)
		require.NoError(t, err)
		_, err = f.service.ReceiveReturn(ctx, order.ID, ReturnRequest{Condition: ConditionGood}, actor)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("only delivered rentals", func(t *testing.T) {
		order, err := f.service.Create(ctx, rentalRequest(), actor)
		require.NoError(t, err)
		_, err = f.service.ReceiveReturn(ctx, order.ID, ReturnRequest{Condition: ConditionGood}, actor)
		var statusErr *StatusConstraintError
		require.ErrorAs(t, err, &statusErr)
	})
}

func TestReceiveReturnWithFinalPayment(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()
	actor := testActor()

	req := rentalRequest()
	req.PaidAmount = decimal.NewFromInt(400)
	req.PaymentMethod = "CASH"
	order, err := f.service.Create(ctx, req, actor)
	require.NoError(t, err)
	_, err = f.service.MarkPrepared(ctx, order.ID, actor)
	require.NoError(t, err)
	_, err = f.service.MarkDelivered(ctx, order.ID, actor)
	require.NoError(t, err)

	// A late fee charged at return time must first be added to the order
	// before it can be collected here, so an overshooting payment fails.
	_, err = f.service.ReceiveReturn(ctx, order.ID, ReturnRequest{
		Condition:    ConditionGood,
		FinalPayment: &PaymentInput{Amount: decimal.NewFromInt(50), Method: "CASH"},
	}, actor)
	var balanceErr *BalanceConstraintError
	require.ErrorAs(t, err, &balanceErr)

	current, err := f.service.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, current.Status)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	actor := testActor()

	t.Run("default keeps counters", func(t *testing.T) {
		f := newFixture(t, ServiceConfig{})
		order, err := f.service.Create(ctx, rentalRequest(), actor)
		require.NoError(t, err)

		require.NoError(t, f.service.Delete(ctx, order.ID, actor))

		p, err := f.products.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 2, p.QuantityRented)

		rows, err := f.ledger.ListByOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Empty(t, rows)

		_, err = f.service.Get(ctx, order.ID)
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("restore flag reverts counters", func(t *testing.T) {
		f := newFixture(t, ServiceConfig{RestoreStockOnDelete: true})
		order, err := f.service.Create(ctx, rentalRequest(), actor)
		require.NoError(t, err)

		require.NoError(t, f.service.Delete(ctx, order.ID, actor))

		p, err := f.products.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 0, p.QuantityRented)
	})

	t.Run("delivered orders are not deletable", func(t *testing.T) {
		f := newFixture(t, ServiceConfig{})
		order, err := f.service.Create(ctx, rentalRequest(), actor)
		require.NoError(t, err)
		_, err = f.service.AddPayment(ctx, order.ID, decimal.NewFromInt(400), "CASH", actor)
		require.NoError(t, err)
		_, err = f.service.MarkPrepared(ctx, order.ID, actor)
		require.NoError(t, err)
		_, err = f.service.MarkDelivered(ctx, order.ID, actor)
		require.NoError(t, err)

		err = f.service.Delete(ctx, order.ID, actor)
		var statusErr *StatusConstraintError
		require.ErrorAs(t, err, &statusErr)
	})

	t.Run("releases idempotency keys", func(t *testing.T) {
		f := newFixture(t, ServiceConfig{})
		order, err := f.service.Create(ctx, rentalRequest(), actor)
		require.NoError(t, err)

		require.NoError(t, f.service.Delete(ctx, order.ID, actor))
		require.Empty(t, f.idem.keys)
	})
}

func TestRecoverPending(t *testing.T) {
	ctx := context.Background()

	t.Run("finishes interrupted creation", func(t *testing.T) {
		f := newFixture(t, ServiceConfig{})

		// An order stuck pending with no counter effects applied yet.
		stuck, err := f.repo.Insert(ctx, Order{
			Code:       "ORD-000099",
			CustomerID: 10,
			Type:       TypeRental,
			OrderDate:  time.Now().AddDate(0, 0, -1),
			Items:      []OrderItem{{ProductID: 1, ProductName: "Silk Gown", Quantity: 2, UnitPrice: decimal.NewFromInt(200)}},
			Total:      decimal.NewFromInt(400),
			Remaining:  decimal.NewFromInt(400),
			Status:     StatusOngoing,
			Pending:    true,
			CreatedAt:  time.Now().Add(-time.Hour),
		})
		require.NoError(t, err)

		recovered, abandoned, err := f.service.RecoverPending(ctx, 5*time.Minute)
		require.NoError(t, err)
		require.Equal(t, 1, recovered)
		require.Equal(t, 0, abandoned)

		current, err := f.service.Get(ctx, stuck.ID)
		require.NoError(t, err)
		require.False(t, current.Pending)

		p, err := f.products.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 2, p.QuantityRented)

		rows, err := f.ledger.ListByOrder(ctx, stuck.ID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, finance.TypeInitialRentalValue, rows[0].Type)
	})

	t.Run("skips fresh pending orders", func(t *testing.T) {
		f := newFixture(t, ServiceConfig{})
		_, err := f.repo.Insert(ctx, Order{
			Code:      "ORD-000100",
			Type:      TypeRental,
			Items:     []OrderItem{{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(200)}},
			Status:    StatusOngoing,
			Pending:   true,
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)

		recovered, abandoned, err := f.service.RecoverPending(ctx, 5*time.Minute)
		require.NoError(t, err)
		require.Equal(t, 0, recovered)
		require.Equal(t, 0, abandoned)
	})

	t.Run("abandons when stock is gone", func(t *testing.T) {
		f := newFixture(t, ServiceConfig{})

		stuck, err := f.repo.Insert(ctx, Order{
			Code:      "ORD-000101",
			Type:      TypeRental,
			Items:     []OrderItem{{ProductID: 1, ProductName: "Silk Gown", Quantity: 10, UnitPrice: decimal.NewFromInt(200)}},
			Status:    StatusOngoing,
			Pending:   true,
			CreatedAt: time.Now().Add(-time.Hour),
		})
		require.NoError(t, err)

		recovered, abandoned, err := f.service.RecoverPending(ctx, 5*time.Minute)
		require.NoError(t, err)
		require.Equal(t, 0, recovered)
		require.Equal(t, 1, abandoned)

		_, err = f.service.Get(ctx, stuck.ID)
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("abandon reverts counters already applied", func(t *testing.T) {
		f := newFixture(t, ServiceConfig{RestoreStockOnDelete: true})

		// Two-item creation interrupted after the first item hit the
		// counters; the second can never be filled.
		stuck, err := f.repo.Insert(ctx, Order{
			Code: "ORD-000102",
			Type: TypeRental,
			Items: []OrderItem{
				{ProductID: 1, ProductName: "Silk Gown", Quantity: 2, UnitPrice: decimal.NewFromInt(200)},
				{ProductID: 2, ProductName: "Veil", Quantity: 10, UnitPrice: decimal.NewFromInt(50)},
			},
			Status:    StatusOngoing,
			Pending:   true,
			CreatedAt: time.Now().Add(-time.Hour),
		})
		require.NoError(t, err)

		require.NoError(t, f.idem.CheckAndInsert(ctx, itemKey(stuck.Code, 1), idempotencyModule))
		applied, err := f.products.ReserveRental(ctx, 1, 2)
		require.NoError(t, err)
		require.True(t, applied)

		recovered, abandoned, err := f.service.RecoverPending(ctx, 5*time.Minute)
		require.NoError(t, err)
		require.Equal(t, 0, recovered)
		require.Equal(t, 1, abandoned)

		p, err := f.products.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 0, p.QuantityRented)
		require.Empty(t, f.idem.keys)

		_, err = f.service.Get(ctx, stuck.ID)
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestListScopesToActorBranch(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	ctx := context.Background()

	branch1, branch2 := int64(1), int64(2)
	for _, b := range []*int64{&branch1, &branch2} {
		req := rentalRequest()
		req.BranchID = b
		req.Items[0].Quantity = 1
		_, err := f.service.Create(ctx, req, testActor())
		require.NoError(t, err)
	}

	confined := shared.Actor{ID: 8, Name: "Branch Clerk", BranchID: &branch1}
	orders, total, err := f.service.List(ctx, ListFilters{Page: 1, Limit: 20}, confined)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, branch1, *orders[0].BranchID)
}
