package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/courseledger/internal/billing"
	"github.com/onnwee/courseledger/internal/middleware"
	"github.com/stripe/stripe-go/v81/webhook"
)

// WebhookHandlers holds dependencies for the billing webhook endpoint.
type WebhookHandlers struct {
	webhookSecret string
	dispatcher    *billing.Dispatcher
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(webhookSecret string, dispatcher *billing.Dispatcher) *WebhookHandlers {
	return &WebhookHandlers{
		webhookSecret: webhookSecret,
		dispatcher:    dispatcher,
	}
}

// webhookAck is the acknowledgment body returned to the provider.
type webhookAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

// HandleStripeWebhook processes Stripe webhook events with signature
// verification. The response is binary for the provider: 2xx means "recorded,
// do not retry" and covers duplicates, concurrent deliveries, and handler
// failures alike; only signature failures (400) and claim-transaction
// failures (500) ask for redelivery.
// POST /internal/stripe
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "missing Stripe-Signature header")
		return
	}

	// Fails closed: nothing below runs on an unverified payload.
	stripeEvent, err := webhook.ConstructEvent(body, signature, h.webhookSecret)
	if err != nil {
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid signature")
		return
	}

	// Log minimal event info (type and ID only, not full payload)
	slog.InfoContext(ctx, "webhook event received", "event_type", stripeEvent.Type, "event_id", stripeEvent.ID)

	ev, err := billing.Decode(stripeEvent, body)
	if err != nil {
		slog.WarnContext(ctx, "failed to decode webhook payload",
			"event_id", stripeEvent.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "malformed event payload")
		return
	}

	outcome, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		// Claim or finalize transaction failure: no acknowledgment, the
		// provider retries and the gate keeps redelivery safe.
		slog.ErrorContext(ctx, "failed to process webhook event",
			"event_id", ev.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(webhookAck{Received: true, Status: string(outcome)}); err != nil {
		slog.ErrorContext(ctx, "failed to write webhook acknowledgment", "error", err)
	}
}
