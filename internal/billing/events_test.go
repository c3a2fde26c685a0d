package billing

import (
	"encoding/json"
	"testing"

	"github.com/stripe/stripe-go/v81"
)

func decodeTestEvent(t *testing.T, raw []byte) *Event {
	t.Helper()
	var stripeEvent stripe.Event
	if err := json.Unmarshal(raw, &stripeEvent); err != nil {
		t.Fatalf("failed to unmarshal fixture: %v", err)
	}
	ev, err := Decode(stripeEvent, raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return ev
}

func TestDecode_CheckoutSessionCompleted(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"mode": "subscription",
				"customer": "cus_1",
				"subscription": "sub_1",
				"metadata": {"uid": "user1", "courseId": "course1"}
			}
		}
	}`)

	ev := decodeTestEvent(t, raw)
	if ev.ID != "evt_1" || ev.Type != EventCheckoutCompleted {
		t.Fatalf("decoded header = %s/%s", ev.ID, ev.Type)
	}
	if ev.Checkout == nil {
		t.Fatal("Checkout payload not populated")
	}
	payload := ev.Checkout
	if payload.SessionID != "cs_test_1" {
		t.Errorf("SessionID = %q", payload.SessionID)
	}
	if payload.UserID != "user1" || payload.CourseID != "course1" {
		t.Errorf("metadata = %q/%q, want user1/course1", payload.UserID, payload.CourseID)
	}
	if payload.SubscriptionID != "sub_1" || payload.CustomerID != "cus_1" {
		t.Errorf("correlation ids = %q/%q", payload.SubscriptionID, payload.CustomerID)
	}
	if !payload.Subscription {
		t.Error("Subscription mode flag not set")
	}
	if string(ev.Raw) != string(raw) {
		t.Error("raw body not retained")
	}
}

func TestDecode_CheckoutSessionWithoutMetadata(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_1", "mode": "payment"}}
	}`)

	ev := decodeTestEvent(t, raw)
	if ev.Checkout == nil {
		t.Fatal("Checkout payload not populated")
	}
	if ev.Checkout.UserID != "" || ev.Checkout.CourseID != "" {
		t.Errorf("metadata = %q/%q, want empty", ev.Checkout.UserID, ev.Checkout.CourseID)
	}
	if ev.Checkout.Subscription {
		t.Error("Subscription mode flag set for a payment-mode session")
	}
}

func TestDecode_Invoice(t *testing.T) {
	for _, eventType := range []EventType{EventInvoicePaid, EventInvoicePaymentFailed} {
		raw := []byte(`{
			"id": "evt_1",
			"type": "` + string(eventType) + `",
			"data": {"object": {"id": "in_1", "customer": "cus_1", "subscription": "sub_1"}}
		}`)

		ev := decodeTestEvent(t, raw)
		if ev.Invoice == nil {
			t.Fatalf("%s: Invoice payload not populated", eventType)
		}
		if ev.Invoice.InvoiceID != "in_1" {
			t.Errorf("%s: InvoiceID = %q", eventType, ev.Invoice.InvoiceID)
		}
		if ev.Invoice.SubscriptionID != "sub_1" {
			t.Errorf("%s: SubscriptionID = %q", eventType, ev.Invoice.SubscriptionID)
		}
		if ev.Invoice.CustomerID != "cus_1" {
			t.Errorf("%s: CustomerID = %q", eventType, ev.Invoice.CustomerID)
		}
	}
}

func TestDecode_Subscription(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "customer": "cus_1", "status": "past_due"}}
	}`)

	ev := decodeTestEvent(t, raw)
	if ev.Subscription == nil {
		t.Fatal("Subscription payload not populated")
	}
	if ev.Subscription.SubscriptionID != "sub_1" {
		t.Errorf("SubscriptionID = %q", ev.Subscription.SubscriptionID)
	}
	if ev.Subscription.Status != "past_due" {
		t.Errorf("Status = %q", ev.Subscription.Status)
	}
	if ev.Subscription.CustomerID != "cus_1" {
		t.Errorf("CustomerID = %q", ev.Subscription.CustomerID)
	}
}

func TestDecode_UnhandledType(t *testing.T) {
	raw := []byte(`{"id": "evt_1", "type": "charge.refunded", "data": {"object": {"id": "ch_1"}}}`)

	ev := decodeTestEvent(t, raw)
	if ev.Handled() {
		t.Error("charge.refunded should not be handled")
	}
	if ev.Checkout != nil || ev.Invoice != nil || ev.Subscription != nil {
		t.Error("unhandled event must decode with no payload variant")
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	event := stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventType(EventInvoicePaid),
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id": 123}`)},
	}
	if _, err := Decode(event, nil); err == nil {
		t.Error("Decode() expected error for malformed payload")
	}
}

func TestEvent_Handled(t *testing.T) {
	handled := []EventType{
		EventCheckoutCompleted, EventInvoicePaid, EventInvoicePaymentFailed,
		EventSubscriptionUpdated, EventSubscriptionDeleted,
	}
	for _, eventType := range handled {
		ev := &Event{Type: eventType}
		if !ev.Handled() {
			t.Errorf("Handled() = false for %s", eventType)
		}
	}
	for _, eventType := range []EventType{"charge.refunded", "customer.created", ""} {
		ev := &Event{Type: eventType}
		if ev.Handled() {
			t.Errorf("Handled() = true for %q", eventType)
		}
	}
}
