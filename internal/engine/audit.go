package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates audit event types recorded against an order.
type EventKind string

const (
	EventCreated         EventKind = "created"
	EventDiscountApplied EventKind = "discount_applied"
	EventPaymentReceived EventKind = "payment_received"
	EventPrepared        EventKind = "prepared"
	EventDelivered       EventKind = "delivered"
	EventReturned        EventKind = "returned"
)

// Event is one entry of an order's structured audit trail. The trail is
// append-only and ordered; the free-text notes of the legacy system survive
// only as the derived rendering below.
type Event struct {
	ID        string         `json:"id"`
	OrderID   int64          `json:"order_id"`
	ActorID   int64          `json:"actor_id"`
	ActorName string         `json:"actor_name"`
	At        time.Time      `json:"at"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(orderID, actorID int64, actorName string, kind EventKind, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		ActorID:   actorID,
		ActorName: actorName,
		At:        time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
	}
}

// Render produces the human-readable line for one event.
func (e Event) Render() string {
	var b strings.Builder
	b.WriteString(e.At.Format("2006-01-02 15:04"))
	b.WriteString(" — ")
	b.WriteString(e.ActorName)
	b.WriteString(": ")

	switch e.Kind {
	case EventCreated:
		b.WriteString("order created")
		if total, ok := e.Payload["total"]; ok {
			fmt.Fprintf(&b, " for %v", total)
		}
	case EventDiscountApplied:
		fmt.Fprintf(&b, "discount %v applied", e.Payload["amount"])
		if reason, ok := e.Payload["reason"]; ok {
			fmt.Fprintf(&b, " (%v)", reason)
		}
	case EventPaymentReceived:
		fmt.Fprintf(&b, "payment %v received", e.Payload["amount"])
		if method, ok := e.Payload["method"]; ok {
			fmt.Fprintf(&b, " (%v)", method)
		}
	case EventPrepared:
		b.WriteString("order prepared")
	case EventDelivered:
		b.WriteString("order delivered to customer")
	case EventReturned:
		fmt.Fprintf(&b, "return received, condition %v", e.Payload["condition"])
		if note, ok := e.Payload["note"]; ok && note != "" {
			fmt.Fprintf(&b, " (%v)", note)
		}
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

// RenderNotes renders the full trail, oldest first, one line per event.
func RenderNotes(events []Event) string {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	lines := make([]string, 0, len(sorted))
	for _, e := range sorted {
		lines = append(lines, e.Render())
	}
	return strings.Join(lines, "\n")
}
