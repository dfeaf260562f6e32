package users

import "time"

// User is an actor identity. Authentication itself happens in the
// presentation layer; this store only keeps the identities and credentials it
// authenticates against.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	BranchID     *int64    `json:"branch_id,omitempty"`
	AllBranches  bool      `json:"all_branches"`
	CanEditPrice bool      `json:"can_edit_price"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}
