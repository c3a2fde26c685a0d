package audit

import (
	"context"
	"errors"

	"github.com/onnwee/courseledger/internal/middleware"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to logging functions.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidAction is returned when an action is empty or not whitelisted.
	ErrInvalidAction = errors.New("invalid audit action")
	// ErrInvalidTarget is returned when the target collection or id is empty.
	ErrInvalidTarget = errors.New("audit target cannot be empty")
)

// ValidActions defines the allowed action names for audit logging.
var ValidActions = map[string]bool{
	"billing.enrollment_created":    true,
	"billing.payment_confirmed":     true,
	"billing.payment_failed":        true,
	"billing.subscription_updated":  true,
	"billing.subscription_canceled": true,
	"enrollment.approved":           true,
	"enrollment.rejected":           true,
}

// validateEntry validates the required fields of an entry against the whitelist.
func validateEntry(entry Entry) error {
	if entry.Action == "" || !ValidActions[entry.Action] {
		return ErrInvalidAction
	}
	if entry.TargetCollection == "" || entry.TargetID == "" {
		return ErrInvalidTarget
	}
	return nil
}

// Record validates and appends an audit entry, filling the request id from the
// context if available.
//
// Error handling: fail-closed - if audit logging fails, the error is returned
// to the caller so a state change without its audit trail is surfaced.
func Record(ctx context.Context, repo Repository, entry Entry) error {
	if repo == nil {
		return ErrNilRepository
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.RequestID == "" {
		entry.RequestID = middleware.GetRequestID(ctx)
	}
	_, err := repo.Append(entry)
	return err
}
