package catalog

import (
	"errors"
	"strings"
)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if p.Price.IsNegative() {
		return errors.New("product price must be >= 0")
	}
	if p.Category != CategoryRental && p.Category != CategorySale {
		return errors.New("product category must be RENTAL or SALE")
	}
	if p.InitialStock < 0 {
		return errors.New("initial stock must be >= 0")
	}
	if !p.IsGlobal && p.BranchID == nil {
		return errors.New("non-global product requires a branch")
	}
	return nil
}
