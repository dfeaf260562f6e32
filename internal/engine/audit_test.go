package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventRender(t *testing.T) {
	at := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	cases := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name: "created",
			event: Event{ActorName: "Clerk", At: at, Kind: EventCreated,
				Payload: map[string]any{"total": "400.00", "type": "RENTAL"}},
			want: "2026-03-05 14:30 — Clerk: order created for 400.00",
		},
		{
			name: "discount with reason",
			event: Event{ActorName: "Manager", At: at, Kind: EventDiscountApplied,
				Payload: map[string]any{"amount": "50.00", "reason": "returning customer"}},
			want: "2026-03-05 14:30 — Manager: discount 50.00 applied (returning customer)",
		},
		{
			name: "payment",
			event: Event{ActorName: "Clerk", At: at, Kind: EventPaymentReceived,
				Payload: map[string]any{"amount": "150.00", "method": "CARD"}},
			want: "2026-03-05 14:30 — Clerk: payment 150.00 received (CARD)",
		},
		{
			name:  "prepared",
			event: Event{ActorName: "Clerk", At: at, Kind: EventPrepared},
			want:  "2026-03-05 14:30 — Clerk: order prepared",
		},
		{
			name: "return with note",
			event: Event{ActorName: "Clerk", At: at, Kind: EventReturned,
				Payload: map[string]any{"condition": "DAMAGED", "note": "torn hem"}},
			want: "2026-03-05 14:30 — Clerk: return received, condition DAMAGED (torn hem)",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.event.Render())
		})
	}
}

func TestRenderNotesOrdersOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	events := []Event{
		{ActorName: "Clerk", At: base.Add(2 * time.Hour), Kind: EventPrepared},
		{ActorName: "Clerk", At: base, Kind: EventCreated, Payload: map[string]any{"total": "100.00"}},
		{ActorName: "Clerk", At: base.Add(time.Hour), Kind: EventPaymentReceived, Payload: map[string]any{"amount": "100.00"}},
	}

	notes := RenderNotes(events)
	lines := []string{
		"2026-03-05 10:00 — Clerk: order created for 100.00",
		"2026-03-05 11:00 — Clerk: payment 100.00 received",
		"2026-03-05 12:00 — Clerk: order prepared",
	}
	require.Equal(t, lines[0]+"\n"+lines[1]+"\n"+lines[2], notes)
}

func TestNewEventFillsIdentity(t *testing.T) {
	e := NewEvent(42, 7, "Clerk", EventDelivered, nil)
	require.NotEmpty(t, e.ID)
	require.Equal(t, int64(42), e.OrderID)
	require.Equal(t, int64(7), e.ActorID)
	require.WithinDuration(t, time.Now().UTC(), e.At, time.Minute)
}
