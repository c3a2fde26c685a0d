package enrollment

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Common errors for enrollment store operations.
var (
	// ErrEnrollmentNotFound is returned when no record matches the lookup.
	ErrEnrollmentNotFound = errors.New("enrollment record not found")

	// ErrEnrollmentExists is returned when creating a record for a (user, course)
	// pair that already has one.
	ErrEnrollmentExists = errors.New("enrollment record already exists")

	// ErrAmbiguousSubscription is returned when more than one record matches a
	// subscription id. This indicates data corruption, not a reconciliation gap.
	ErrAmbiguousSubscription = errors.New("multiple enrollment records match subscription id")
)

// Store persists enrollment records. Every write applies to both the global
// and the user-scoped copy of the record in a single transaction; the two
// copies must never diverge.
type Store interface {
	// Create inserts a new record under both copies. The record's AccessStatus
	// is computed from its signals; callers never set it.
	Create(ctx context.Context, rec *Record) error

	// GetByKey retrieves a record by its primary key.
	GetByKey(ctx context.Context, userID, courseID string) (*Record, error)

	// GetBySubscriptionID retrieves the single record correlated with a
	// provider subscription id. Zero matches return ErrEnrollmentNotFound;
	// multiple matches return ErrAmbiguousSubscription.
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Record, error)

	// Mutate applies fn to the current record inside one atomic
	// read-modify-write transaction, recomputes AccessStatus from the
	// post-update signals, and writes both copies. Returns the updated record.
	Mutate(ctx context.Context, userID, courseID string, fn func(*Record) error) (*Record, error)
}

// InMemoryStore implements Store with in-memory maps. The global and
// user-scoped copies live behind one mutex so both are updated atomically.
// Thread-safe.
type InMemoryStore struct {
	mu         sync.RWMutex
	global     map[string]*Record            // composite key -> record
	userScoped map[string]map[string]*Record // userID -> courseID -> record
}

// NewInMemoryStore creates a new in-memory enrollment store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		global:     make(map[string]*Record),
		userScoped: make(map[string]map[string]*Record),
	}
}

// Create inserts a new record under both copies.
func (s *InMemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if _, exists := s.global[key]; exists {
		return ErrEnrollmentExists
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.AccessStatus = ComputeAccessStatus(rec.PaymentStatus, rec.ApprovalStatus, rec.SubscriptionStatus)

	s.writeBothLocked(rec)
	return nil
}

// GetByKey retrieves a record by its primary key from the global copy.
func (s *InMemoryStore) GetByKey(ctx context.Context, userID, courseID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.global[Key(userID, courseID)]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	return copyRecord(rec), nil
}

// GetUserScoped retrieves the user-scoped copy of a record. Both copies are
// the same logical entity; this accessor exists so consistency between them
// can be observed.
func (s *InMemoryStore) GetUserScoped(ctx context.Context, userID, courseID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	courses, ok := s.userScoped[userID]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	rec, ok := courses[courseID]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	return copyRecord(rec), nil
}

// GetBySubscriptionID retrieves the single record for a subscription id.
func (s *InMemoryStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Record
	for _, rec := range s.global {
		if rec.SubscriptionID != subscriptionID {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousSubscription
		}
		found = rec
	}
	if found == nil {
		return nil, ErrEnrollmentNotFound
	}
	return copyRecord(found), nil
}

// Mutate applies fn under the store lock and writes both copies.
func (s *InMemoryStore) Mutate(ctx context.Context, userID, courseID string, fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.global[Key(userID, courseID)]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}

	// fn operates on a copy so a failed mutation leaves no partial state.
	updated := copyRecord(current)
	if err := fn(updated); err != nil {
		return nil, err
	}

	updated.AccessStatus = ComputeAccessStatus(updated.PaymentStatus, updated.ApprovalStatus, updated.SubscriptionStatus)
	updated.UpdatedAt = time.Now().UTC()

	s.writeBothLocked(updated)
	return copyRecord(updated), nil
}

// writeBothLocked stores the record under the global and user-scoped copies.
// Caller must hold the write lock.
func (s *InMemoryStore) writeBothLocked(rec *Record) {
	s.global[rec.Key()] = copyRecord(rec)
	courses, ok := s.userScoped[rec.UserID]
	if !ok {
		courses = make(map[string]*Record)
		s.userScoped[rec.UserID] = courses
	}
	courses[rec.CourseID] = copyRecord(rec)
}

// copyRecord creates a deep copy of a Record.
func copyRecord(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	copied := *rec
	if rec.LastPaidAt != nil {
		t := *rec.LastPaidAt
		copied.LastPaidAt = &t
	}
	if rec.EndedAt != nil {
		t := *rec.EndedAt
		copied.EndedAt = &t
	}
	return &copied
}
