package branches

import (
	"context"
	"errors"
	"strings"
)

// Service handles branch business logic.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns all branches.
func (s *Service) List(ctx context.Context) ([]Branch, error) {
	return s.repo.List(ctx)
}

// Get returns one branch.
func (s *Service) Get(ctx context.Context, id int64) (Branch, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a new branch.
func (s *Service) Create(ctx context.Context, branch Branch) (Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return Branch{}, errors.New("branch name is required")
	}
	branch.IsActive = true
	return s.repo.Create(ctx, branch)
}

// Update changes branch fields.
func (s *Service) Update(ctx context.Context, id int64, branch Branch) error {
	if strings.TrimSpace(branch.Name) == "" {
		return errors.New("branch name is required")
	}
	return s.repo.Update(ctx, id, branch)
}
