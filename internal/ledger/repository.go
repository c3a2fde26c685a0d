package ledger

import (
	"context"
	"sync"
	"time"
)

// Ledger persists per-event processing state and implements the idempotency
// gate. Claim must be atomic: two concurrent claims for the same event id see
// exactly one FirstClaim.
type Ledger interface {
	// Claim executes the check-and-claim transaction for an event id. On
	// FirstClaim and PreviouslyErrored the caller owns handler execution and
	// must finalize via MarkDone or MarkError.
	Claim(ctx context.Context, eventID, eventType string, payload []byte) (ClaimResult, error)

	// MarkDone finalizes the entry as done with a processed timestamp.
	MarkDone(ctx context.Context, eventID string) error

	// MarkError finalizes the entry as errored with a failure timestamp and
	// message. A later Claim for the same id is allowed to retry.
	MarkError(ctx context.Context, eventID, message string) error

	// Get retrieves the entry for an event id.
	Get(ctx context.Context, eventID string) (*Entry, error)

	// ListErrored returns errored entries with fewer than maxAttempts attempts,
	// oldest first, up to limit. Feed for the reconciliation retry job.
	ListErrored(ctx context.Context, maxAttempts, limit int) ([]*Entry, error)
}

// InMemoryLedger implements Ledger with in-memory storage. Thread-safe; the
// single mutex gives Claim its atomicity.
type InMemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

// NewInMemoryLedger creates a new in-memory event ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		entries: make(map[string]*Entry),
	}
}

// Claim executes the check-and-claim state machine under the ledger lock.
func (l *InMemoryLedger) Claim(ctx context.Context, eventID, eventType string, payload []byte) (ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	entry, exists := l.entries[eventID]
	if !exists {
		l.entries[eventID] = &Entry{
			EventID:             eventID,
			Type:                eventType,
			Status:              StatusProcessing,
			ReceivedAt:          now,
			ProcessingStartedAt: now,
			Attempts:            1,
			Payload:             append([]byte(nil), payload...),
		}
		l.order = append(l.order, eventID)
		return FirstClaim, nil
	}

	switch entry.Status {
	case StatusDone:
		return AlreadyDone, nil
	case StatusProcessing:
		return AlreadyProcessing, nil
	default: // StatusError: re-take the claim
		entry.Status = StatusProcessing
		entry.ProcessingStartedAt = now
		entry.Attempts++
		return PreviouslyErrored, nil
	}
}

// MarkDone finalizes the entry as done.
func (l *InMemoryLedger) MarkDone(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.entries[eventID]
	if !exists {
		return ErrEntryNotFound
	}
	now := time.Now().UTC()
	entry.Status = StatusDone
	entry.ProcessedAt = &now
	entry.ErrorMessage = ""
	return nil
}

// MarkError finalizes the entry as errored.
func (l *InMemoryLedger) MarkError(ctx context.Context, eventID, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.entries[eventID]
	if !exists {
		return ErrEntryNotFound
	}
	now := time.Now().UTC()
	entry.Status = StatusError
	entry.FailedAt = &now
	entry.ErrorMessage = message
	return nil
}

// Get retrieves the entry for an event id.
func (l *InMemoryLedger) Get(ctx context.Context, eventID string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.entries[eventID]
	if !exists {
		return nil, ErrEntryNotFound
	}
	return copyEntry(entry), nil
}

// ListErrored returns retryable errored entries, oldest first.
func (l *InMemoryLedger) ListErrored(ctx context.Context, maxAttempts, limit int) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*Entry
	for _, id := range l.order {
		entry := l.entries[id]
		if entry.Status != StatusError || entry.Attempts >= maxAttempts {
			continue
		}
		results = append(results, copyEntry(entry))
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// copyEntry creates a deep copy of an Entry.
func copyEntry(entry *Entry) *Entry {
	copied := *entry
	copied.Payload = append([]byte(nil), entry.Payload...)
	if entry.ProcessedAt != nil {
		t := *entry.ProcessedAt
		copied.ProcessedAt = &t
	}
	if entry.FailedAt != nil {
		t := *entry.FailedAt
		copied.FailedAt = &t
	}
	return &copied
}
