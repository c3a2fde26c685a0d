// Package ledger provides the durable event ledger and the idempotency gate
// that admits exactly one concurrent handler per provider event id.
package ledger

import (
	"errors"
	"time"
)

// Entry status values. An entry only ever moves processing -> done, or
// processing -> error -> (on retry) processing.
const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// ErrEntryNotFound is returned when no ledger entry exists for an event id.
var ErrEntryNotFound = errors.New("ledger entry not found")

// Entry records the processing state of a single provider event. At most one
// entry per event id is ever created; a done entry is immutable evidence that
// side effects were applied exactly once.
type Entry struct {
	EventID             string
	Type                string
	Status              string
	ReceivedAt          time.Time
	ProcessingStartedAt time.Time
	ProcessedAt         *time.Time
	FailedAt            *time.Time
	ErrorMessage        string

	// Attempts counts how many times a handler run was started for this event,
	// including retries after an error.
	Attempts int

	// Payload is the raw provider event body, retained so errored events can be
	// re-dispatched by the reconciliation job without provider redelivery.
	Payload []byte
}

// ClaimResult is the outcome of the check-and-claim transaction.
type ClaimResult int

const (
	// FirstClaim: no prior entry existed; the caller owns handler execution and
	// must finalize with MarkDone or MarkError.
	FirstClaim ClaimResult = iota

	// AlreadyDone: side effects were already applied; skip the handler and
	// acknowledge receipt.
	AlreadyDone

	// AlreadyProcessing: another invocation holds the claim right now;
	// acknowledge receipt without doing any work.
	AlreadyProcessing

	// PreviouslyErrored: a prior attempt failed; the claim has been re-taken
	// and the caller must re-run the handler and finalize.
	PreviouslyErrored
)

// String returns the claim result name for logs and metrics labels.
func (r ClaimResult) String() string {
	switch r {
	case FirstClaim:
		return "first_claim"
	case AlreadyDone:
		return "already_done"
	case AlreadyProcessing:
		return "already_processing"
	case PreviouslyErrored:
		return "previously_errored"
	default:
		return "unknown"
	}
}

// OwnsExecution reports whether the claim result obliges the caller to run the
// handler and finalize the entry.
func (r ClaimResult) OwnsExecution() bool {
	return r == FirstClaim || r == PreviouslyErrored
}
