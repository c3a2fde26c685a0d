package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/courseledger/internal/audit"
	"github.com/onnwee/courseledger/internal/enrollment"
)

// ErrInvalidSubscriptionStatus is returned when the provider sends a
// subscription status outside the stored vocabulary. Silently coercing it
// could grant or deny access, so the event is failed loudly instead.
var ErrInvalidSubscriptionStatus = errors.New("subscription status outside known vocabulary")

// Processor applies the state transition for each event type. Each handler
// mutates only the signal it is authoritative for; the access status is
// recomputed by the store inside the same transaction as the signal write.
type Processor struct {
	store     enrollment.Store
	auditRepo audit.Repository
	logger    *slog.Logger
	metrics   *Metrics
}

// NewProcessor creates a new Processor.
func NewProcessor(store enrollment.Store, auditRepo audit.Repository, logger *slog.Logger, metrics *Metrics) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     store,
		auditRepo: auditRepo,
		logger:    logger,
		metrics:   metrics,
	}
}

// Process runs the handler matching the event type. Callers must have checked
// Handled() first.
func (p *Processor) Process(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, ev)
	case EventInvoicePaid:
		return p.handleInvoicePaid(ctx, ev)
	case EventInvoicePaymentFailed:
		return p.handleInvoicePaymentFailed(ctx, ev)
	case EventSubscriptionUpdated:
		return p.handleSubscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, ev)
	default:
		return fmt.Errorf("no handler for event type %s", ev.Type)
	}
}

// handleCheckoutCompleted creates the enrollment record on first sighting of a
// (user, course) pair. This is the single place where signal defaults are set:
// payment=pending until an invoice confirms it, approval=pending_review until
// a human acts, subscription=active as reported by a just-completed checkout.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, ev *Event) error {
	payload := ev.Checkout
	if payload.UserID == "" || payload.CourseID == "" {
		// Checkout sessions created outside the course platform carry no
		// enrollment metadata; nothing for this engine to reconcile.
		p.logger.WarnContext(ctx, "checkout session without enrollment metadata",
			"event_id", ev.ID, "session_id", payload.SessionID)
		return nil
	}
	if !payload.Subscription || payload.SubscriptionID == "" {
		// A one-time payment session has no subscription lifecycle to
		// reconcile. Creating a record from it would fabricate a subscription
		// signal that no later event could correct.
		p.logger.WarnContext(ctx, "checkout session not in subscription mode, skipping",
			"event_id", ev.ID,
			"session_id", payload.SessionID,
			"enrollment", enrollment.Key(payload.UserID, payload.CourseID))
		return nil
	}

	rec := &enrollment.Record{
		UserID:             payload.UserID,
		CourseID:           payload.CourseID,
		PaymentStatus:      enrollment.PaymentPending,
		ApprovalStatus:     enrollment.ApprovalPendingReview,
		SubscriptionStatus: enrollment.SubscriptionActive,
		CustomerID:         payload.CustomerID,
		SubscriptionID:     payload.SubscriptionID,
	}

	err := p.store.Create(ctx, rec)
	if errors.Is(err, enrollment.ErrEnrollmentExists) {
		// A second checkout for the same pair (new event id, so not caught by
		// the idempotency gate). Refresh correlation ids, leave signals alone.
		_, err = p.store.Mutate(ctx, payload.UserID, payload.CourseID, func(r *enrollment.Record) error {
			if payload.SubscriptionID != "" {
				r.SubscriptionID = payload.SubscriptionID
			}
			if payload.CustomerID != "" {
				r.CustomerID = payload.CustomerID
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to refresh enrollment correlation ids: %w", err)
		}
		p.logger.InfoContext(ctx, "checkout for existing enrollment, correlation ids refreshed",
			"event_id", ev.ID, "enrollment", rec.Key())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create enrollment record: %w", err)
	}

	p.logger.InfoContext(ctx, "enrollment record created",
		"event_id", ev.ID,
		"enrollment", rec.Key(),
		"subscription_id", payload.SubscriptionID,
		"access_status", rec.AccessStatus)

	return audit.Record(ctx, p.auditRepo, audit.Entry{
		Actor:            audit.SystemWebhook,
		Action:           "billing.enrollment_created",
		TargetCollection: "enrollments",
		TargetID:         rec.Key(),
		Summary:          fmt.Sprintf("Enrollment created from checkout session %s", payload.SessionID),
		AccessAfter:      rec.AccessStatus,
		EventID:          ev.ID,
	})
}

// handleInvoicePaid marks the payment signal paid. It does not touch the
// subscription status; that is owned by subscription-updated events.
func (p *Processor) handleInvoicePaid(ctx context.Context, ev *Event) error {
	rec, found, err := p.lookupBySubscription(ctx, ev, ev.Invoice.SubscriptionID)
	if err != nil || !found {
		return err
	}

	var before string
	updated, err := p.store.Mutate(ctx, rec.UserID, rec.CourseID, func(r *enrollment.Record) error {
		before = r.AccessStatus
		now := time.Now().UTC()
		r.PaymentStatus = enrollment.PaymentPaid
		r.LastPaidAt = &now
		if ev.Invoice.InvoiceID != "" {
			r.LatestInvoiceID = ev.Invoice.InvoiceID
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply invoice.paid: %w", err)
	}

	p.logger.InfoContext(ctx, "payment confirmed",
		"event_id", ev.ID,
		"enrollment", updated.Key(),
		"invoice_id", ev.Invoice.InvoiceID,
		"access_status", updated.AccessStatus)

	return audit.Record(ctx, p.auditRepo, audit.Entry{
		Actor:            audit.SystemWebhook,
		Action:           "billing.payment_confirmed",
		TargetCollection: "enrollments",
		TargetID:         updated.Key(),
		Summary:          fmt.Sprintf("Invoice %s paid", ev.Invoice.InvoiceID),
		AccessBefore:     before,
		AccessAfter:      updated.AccessStatus,
		EventID:          ev.ID,
	})
}

// handleInvoicePaymentFailed marks the payment signal failed.
func (p *Processor) handleInvoicePaymentFailed(ctx context.Context, ev *Event) error {
	rec, found, err := p.lookupBySubscription(ctx, ev, ev.Invoice.SubscriptionID)
	if err != nil || !found {
		return err
	}

	var before string
	updated, err := p.store.Mutate(ctx, rec.UserID, rec.CourseID, func(r *enrollment.Record) error {
		before = r.AccessStatus
		r.PaymentStatus = enrollment.PaymentFailed
		if ev.Invoice.InvoiceID != "" {
			r.LatestInvoiceID = ev.Invoice.InvoiceID
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply invoice.payment_failed: %w", err)
	}

	p.logger.WarnContext(ctx, "payment failed",
		"event_id", ev.ID,
		"enrollment", updated.Key(),
		"invoice_id", ev.Invoice.InvoiceID,
		"access_status", updated.AccessStatus)

	return audit.Record(ctx, p.auditRepo, audit.Entry{
		Actor:            audit.SystemWebhook,
		Action:           "billing.payment_failed",
		TargetCollection: "enrollments",
		TargetID:         updated.Key(),
		Summary:          fmt.Sprintf("Invoice %s payment failed", ev.Invoice.InvoiceID),
		AccessBefore:     before,
		AccessAfter:      updated.AccessStatus,
		EventID:          ev.ID,
	})
}

// handleSubscriptionUpdated mirrors the provider's subscription status. The
// payment and approval signals are preserved; only the subscription signal is
// authoritative here.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, ev *Event) error {
	status := ev.Subscription.Status
	if !validSubscriptionStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidSubscriptionStatus, status)
	}

	rec, found, err := p.lookupBySubscription(ctx, ev, ev.Subscription.SubscriptionID)
	if err != nil || !found {
		return err
	}

	var before string
	updated, err := p.store.Mutate(ctx, rec.UserID, rec.CourseID, func(r *enrollment.Record) error {
		before = r.AccessStatus
		r.SubscriptionStatus = status
		if status == enrollment.SubscriptionCanceled && r.EndedAt == nil {
			now := time.Now().UTC()
			r.EndedAt = &now
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply subscription update: %w", err)
	}

	p.logger.InfoContext(ctx, "subscription status updated",
		"event_id", ev.ID,
		"enrollment", updated.Key(),
		"subscription_status", status,
		"access_status", updated.AccessStatus)

	return audit.Record(ctx, p.auditRepo, audit.Entry{
		Actor:            audit.SystemWebhook,
		Action:           "billing.subscription_updated",
		TargetCollection: "enrollments",
		TargetID:         updated.Key(),
		Summary:          fmt.Sprintf("Subscription %s now %s", ev.Subscription.SubscriptionID, status),
		AccessBefore:     before,
		AccessAfter:      updated.AccessStatus,
		EventID:          ev.ID,
	})
}

// handleSubscriptionDeleted is terminal: the subscription signal becomes
// canceled, the end timestamp is set, and the revocation is audited.
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, ev *Event) error {
	rec, found, err := p.lookupBySubscription(ctx, ev, ev.Subscription.SubscriptionID)
	if err != nil || !found {
		return err
	}

	var before string
	updated, err := p.store.Mutate(ctx, rec.UserID, rec.CourseID, func(r *enrollment.Record) error {
		before = r.AccessStatus
		now := time.Now().UTC()
		r.SubscriptionStatus = enrollment.SubscriptionCanceled
		r.EndedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply subscription deletion: %w", err)
	}

	p.logger.InfoContext(ctx, "subscription canceled, access revoked",
		"event_id", ev.ID,
		"enrollment", updated.Key(),
		"subscription_id", ev.Subscription.SubscriptionID,
		"access_status", updated.AccessStatus)

	return audit.Record(ctx, p.auditRepo, audit.Entry{
		Actor:            audit.SystemWebhook,
		Action:           "billing.subscription_canceled",
		TargetCollection: "enrollments",
		TargetID:         updated.Key(),
		Summary:          fmt.Sprintf("Subscription %s canceled. Access revoked.", ev.Subscription.SubscriptionID),
		AccessBefore:     before,
		AccessAfter:      updated.AccessStatus,
		EventID:          ev.ID,
	})
}

// lookupBySubscription resolves the enrollment record for a subscription-scoped
// event. A missing record is a reconciliation gap: it is logged and counted but
// the event completes normally, because provider retries cannot conjure a
// record that does not exist. An ambiguous match is data corruption and fails
// the event.
func (p *Processor) lookupBySubscription(ctx context.Context, ev *Event, subscriptionID string) (*enrollment.Record, bool, error) {
	if subscriptionID == "" {
		p.logger.WarnContext(ctx, "event without subscription id, skipping",
			"event_id", ev.ID, "event_type", ev.Type)
		return nil, false, nil
	}

	rec, err := p.store.GetBySubscriptionID(ctx, subscriptionID)
	if errors.Is(err, enrollment.ErrEnrollmentNotFound) {
		p.metrics.RecordGap(string(ev.Type))
		p.logger.WarnContext(ctx, "reconciliation gap: no enrollment for subscription",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"subscription_id", subscriptionID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up enrollment by subscription: %w", err)
	}
	return rec, true, nil
}

func validSubscriptionStatus(s string) bool {
	switch s {
	case enrollment.SubscriptionActive, enrollment.SubscriptionPastDue,
		enrollment.SubscriptionCanceled, enrollment.SubscriptionIncomplete,
		enrollment.SubscriptionTrialing, enrollment.SubscriptionUnpaid:
		return true
	}
	return false
}
