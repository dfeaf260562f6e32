package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// CreateOrderForm is the wire shape for order creation. Dates are yyyy-MM-dd
// and money amounts are decimal strings.
type CreateOrderForm struct {
	CustomerID    int64            `json:"customer_id" validate:"required,gt=0"`
	SellerID      *int64           `json:"seller_id,omitempty"`
	Type          string           `json:"type" validate:"required,oneof=RENTAL SALE"`
	OrderDate     string           `json:"order_date" validate:"required"`
	DeliveryDate  string           `json:"delivery_date" validate:"required"`
	ReturnDate    *string          `json:"return_date,omitempty"`
	Items         []OrderItemForm  `json:"items" validate:"required,min=1,dive"`
	PaidAmount    string           `json:"paid_amount,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	BranchID      *int64           `json:"branch_id,omitempty"`
}

// OrderItemForm is one requested line on the wire.
type OrderItemForm struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int     `json:"quantity" validate:"required,gte=1"`
	Price     *string `json:"price,omitempty"`
}

// ToRequest parses the wire form into a domain request.
func (f CreateOrderForm) ToRequest() (CreateOrderRequest, error) {
	orderDate, err := time.Parse(dateLayout, f.OrderDate)
	if err != nil {
		return CreateOrderRequest{}, validationf("order_date must be yyyy-MM-dd")
	}
	deliveryDate, err := time.Parse(dateLayout, f.DeliveryDate)
	if err != nil {
		return CreateOrderRequest{}, validationf("delivery_date must be yyyy-MM-dd")
	}

	var returnDate *time.Time
	if f.ReturnDate != nil && *f.ReturnDate != "" {
		parsed, err := time.Parse(dateLayout, *f.ReturnDate)
		if err != nil {
			return CreateOrderRequest{}, validationf("return_date must be yyyy-MM-dd")
		}
		returnDate = &parsed
	}

	paid := decimal.Zero
	if f.PaidAmount != "" {
		paid, err = decimal.NewFromString(f.PaidAmount)
		if err != nil {
			return CreateOrderRequest{}, validationf("paid_amount must be a decimal number")
		}
	}

	items := make([]CreateItemInput, 0, len(f.Items))
	for _, item := range f.Items {
		input := CreateItemInput{ProductID: item.ProductID, Quantity: item.Quantity}
		if item.Price != nil && *item.Price != "" {
			price, err := decimal.NewFromString(*item.Price)
			if err != nil {
				return CreateOrderRequest{}, validationf("item price must be a decimal number")
			}
			input.PriceOverride = &price
		}
		items = append(items, input)
	}

	return CreateOrderRequest{
		CustomerID:    f.CustomerID,
		SellerID:      f.SellerID,
		Type:          TransactionType(f.Type),
		OrderDate:     orderDate,
		DeliveryDate:  deliveryDate,
		ReturnDate:    returnDate,
		Items:         items,
		PaidAmount:    paid,
		PaymentMethod: f.PaymentMethod,
		BranchID:      f.BranchID,
	}, nil
}

// DiscountForm is the wire shape for applying a discount.
type DiscountForm struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// PaymentForm is the wire shape for recording a payment.
type PaymentForm struct {
	Amount string `json:"amount" validate:"required"`
	Method string `json:"method" validate:"required"`
}

// ReturnForm is the wire shape for receiving a rental return.
type ReturnForm struct {
	Condition    string       `json:"condition" validate:"required,oneof=GOOD DAMAGED"`
	Note         string       `json:"note,omitempty"`
	FinalPayment *PaymentForm `json:"final_payment,omitempty"`
}

// ToRequest parses the wire form into a domain request.
func (f ReturnForm) ToRequest() (ReturnRequest, error) {
	req := ReturnRequest{Condition: ReturnCondition(f.Condition), Note: f.Note}
	if f.FinalPayment != nil {
		amount, err := decimal.NewFromString(f.FinalPayment.Amount)
		if err != nil {
			return ReturnRequest{}, validationf("final payment amount must be a decimal number")
		}
		req.FinalPayment = &PaymentInput{Amount: amount, Method: f.FinalPayment.Method}
	}
	return req, nil
}

// OrderResponse is the wire shape of an order, with the derived status and the
// rendered audit trail included.
type OrderResponse struct {
	Order
	DerivedStatus Status `json:"derived_status"`
	Notes         string `json:"notes,omitempty"`
}

// NewOrderResponse builds the response for one order.
func NewOrderResponse(order Order, now time.Time) OrderResponse {
	return OrderResponse{
		Order:         order,
		DerivedStatus: order.DerivedStatus(now),
		Notes:         RenderNotes(order.Events),
	}
}
