package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atelier-erp/atelier/internal/codes"
)

// Service provides product business logic.
type Service struct {
	repo    Repository
	barcode *codes.Generator
}

// NewService builds Service. The barcode generator assigns codes to products
// created without one.
func NewService(repo Repository, barcode *codes.Generator) *Service {
	return &Service{repo: repo, barcode: barcode}
}

// List returns products visible under the given filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a new product. Missing codes are generated; stock starts
// fully available.
func (s *Service) Create(ctx context.Context, form ProductForm) (Product, error) {
	price, err := decimal.NewFromString(form.Price)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: parse price: %w", err)
	}

	p := Product{
		Code:            form.Code,
		Name:            form.Name,
		Price:           price,
		Category:        Category(form.Category),
		Status:          StatusAvailable,
		InitialStock:    form.InitialStock,
		QuantityInStock: form.InitialStock,
		BranchID:        form.BranchID,
		IsGlobal:        form.IsGlobal,
	}
	if err := s.validate(p); err != nil {
		return Product{}, err
	}

	if p.Code == "" {
		code, err := s.barcode.Generate(ctx)
		if err != nil {
			return Product{}, fmt.Errorf("catalog: assign barcode: %w", err)
		}
		p.Code = code
	} else {
		taken, err := s.repo.CodeExists(ctx, p.Code)
		if err != nil {
			return Product{}, err
		}
		if taken {
			return Product{}, fmt.Errorf("catalog: code %s already in use", p.Code)
		}
	}

	return s.repo.Create(ctx, p)
}

// Update changes mutable product fields. Code and counters are immutable here.
func (s *Service) Update(ctx context.Context, id int64, form ProductForm) (Product, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}

	price, err := decimal.NewFromString(form.Price)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: parse price: %w", err)
	}

	existing.Name = form.Name
	existing.Price = price
	existing.Category = Category(form.Category)
	existing.BranchID = form.BranchID
	existing.IsGlobal = form.IsGlobal
	if err := s.validate(existing); err != nil {
		return Product{}, err
	}

	if err := s.repo.Update(ctx, id, existing); err != nil {
		return Product{}, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a product.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}
