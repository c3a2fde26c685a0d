// Package billing implements the event reconciliation engine: typed webhook
// payloads, per-event-type handlers, and the dispatcher that drives the
// idempotency gate around them.
package billing

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
)

// EventType identifies the provider event variants this engine handles.
type EventType string

// Handled event types. Anything else is acknowledged and ignored so new
// provider event types never break the webhook.
const (
	EventCheckoutCompleted    EventType = "checkout.session.completed"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventSubscriptionUpdated  EventType = "customer.subscription.updated"
	EventSubscriptionDeleted  EventType = "customer.subscription.deleted"
)

// Event is the typed form of a verified provider event: a tagged union with
// exactly one payload variant populated, decoded once at the webhook boundary.
type Event struct {
	ID   string
	Type EventType

	// Raw is the full signed event body, stored on the ledger entry so errored
	// events can be re-dispatched without provider redelivery.
	Raw []byte

	Checkout     *CheckoutPayload
	Invoice      *InvoicePayload
	Subscription *SubscriptionPayload
}

// CheckoutPayload carries the fields of a completed checkout session the
// engine acts on. UserID and CourseID come from session metadata set at
// checkout creation.
type CheckoutPayload struct {
	SessionID      string
	UserID         string
	CourseID       string
	SubscriptionID string
	CustomerID     string
	Subscription   bool // session was in subscription mode
}

// InvoicePayload carries the fields of an invoice event the engine acts on.
type InvoicePayload struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
}

// SubscriptionPayload carries the fields of a subscription lifecycle event.
type SubscriptionPayload struct {
	SubscriptionID string
	CustomerID     string
	Status         string
}

// Handled reports whether the event type has a registered handler.
func (e *Event) Handled() bool {
	switch e.Type {
	case EventCheckoutCompleted, EventInvoicePaid, EventInvoicePaymentFailed,
		EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// Decode turns a signature-verified provider event into the typed union. The
// raw body is retained on the result. Decoding failures are returned as
// errors; an unhandled event type decodes successfully with no payload.
func Decode(event stripe.Event, raw []byte) (*Event, error) {
	ev := &Event{
		ID:   event.ID,
		Type: EventType(event.Type),
		Raw:  append([]byte(nil), raw...),
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		payload := &CheckoutPayload{
			SessionID:    session.ID,
			Subscription: session.Mode == stripe.CheckoutSessionModeSubscription,
		}
		if session.Metadata != nil {
			payload.UserID = session.Metadata["uid"]
			payload.CourseID = session.Metadata["courseId"]
		}
		if session.Subscription != nil {
			payload.SubscriptionID = session.Subscription.ID
		}
		if session.Customer != nil {
			payload.CustomerID = session.Customer.ID
		}
		ev.Checkout = payload

	case EventInvoicePaid, EventInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		payload := &InvoicePayload{InvoiceID: invoice.ID}
		if invoice.Subscription != nil {
			payload.SubscriptionID = invoice.Subscription.ID
		}
		if invoice.Customer != nil {
			payload.CustomerID = invoice.Customer.ID
		}
		ev.Invoice = payload

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var subscription stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		payload := &SubscriptionPayload{
			SubscriptionID: subscription.ID,
			Status:         string(subscription.Status),
		}
		if subscription.Customer != nil {
			payload.CustomerID = subscription.Customer.ID
		}
		ev.Subscription = payload
	}

	return ev, nil
}
