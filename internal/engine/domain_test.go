package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDerivedStatus(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -2)
	future := now.AddDate(0, 0, 2)

	cases := []struct {
		name  string
		order Order
		want  Status
	}{
		{"delivered rental past return date", Order{Type: TypeRental, Status: StatusDelivered, ReturnDate: &past}, StatusOverdue},
		{"delivered rental before return date", Order{Type: TypeRental, Status: StatusDelivered, ReturnDate: &future}, StatusDelivered},
		{"completed rental past return date", Order{Type: TypeRental, Status: StatusCompleted, ReturnDate: &past}, StatusCompleted},
		{"sale never overdue", Order{Type: TypeSale, Status: StatusDelivered}, StatusDelivered},
		{"ongoing rental past return date", Order{Type: TypeRental, Status: StatusOngoing, ReturnDate: &past}, StatusOngoing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.order.DerivedStatus(now))
		})
	}
}

func TestDeletable(t *testing.T) {
	require.True(t, Order{Status: StatusOngoing}.Deletable())
	require.True(t, Order{Status: StatusPrepared}.Deletable())
	require.True(t, Order{Status: StatusCancelled}.Deletable())
	require.False(t, Order{Status: StatusDelivered}.Deletable())
	require.False(t, Order{Status: StatusCompleted}.Deletable())
}

func TestItemTotal(t *testing.T) {
	items := []OrderItem{
		{Quantity: 2, UnitPrice: decimal.RequireFromString("199.99")},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("50.01")},
	}
	require.True(t, ItemTotal(items).Equal(decimal.RequireFromString("449.99")))
	require.True(t, ItemTotal(nil).IsZero())
}
