package catalog

// ProductForm carries product create/update input.
type ProductForm struct {
	Code         string `json:"code"`
	Name         string `json:"name" validate:"required"`
	Price        string `json:"price" validate:"required"`
	Category     string `json:"category" validate:"required,oneof=RENTAL SALE"`
	InitialStock int    `json:"initial_stock" validate:"gte=0"`
	BranchID     *int64 `json:"branch_id,omitempty"`
	IsGlobal     bool   `json:"is_global"`
}
