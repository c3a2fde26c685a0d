package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for audit log operations.
type Repository interface {
	// Append records an audit event. Returns the created log entry.
	Append(entry Entry) (*Log, error)

	// QueryByTarget retrieves audit logs for a specific target, sorted by time
	// (newest first). Limit specifies the maximum number of entries to return
	// (0 = no limit).
	QueryByTarget(collection, targetID string, limit int) ([]*Log, error)

	// QueryByAction retrieves audit logs for a specific action name, sorted by
	// time (newest first). Limit specifies the maximum number of entries to
	// return (0 = no limit).
	QueryByAction(action string, limit int) ([]*Log, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu   sync.RWMutex
	logs map[string]*Log
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		logs:  make(map[string]*Log),
		order: make([]string, 0),
	}
}

// Append records an audit event.
func (r *InMemoryRepository) Append(entry Entry) (*Log, error) {
	log := &Log{
		ID:               uuid.New().String(),
		Actor:            entry.Actor,
		Action:           entry.Action,
		TargetCollection: entry.TargetCollection,
		TargetID:         entry.TargetID,
		Summary:          entry.Summary,
		CreatedAt:        time.Now().UTC(),
		AccessBefore:     entry.AccessBefore,
		AccessAfter:      entry.AccessAfter,
		RequestID:        entry.RequestID,
		EventID:          entry.EventID,
	}

	r.mu.Lock()
	r.logs[log.ID] = log
	r.order = append(r.order, log.ID)
	r.mu.Unlock()

	// Return a copy to prevent external modification
	logCopy := *log
	return &logCopy, nil
}

// QueryByTarget retrieves audit logs for a specific target, newest first.
func (r *InMemoryRepository) QueryByTarget(collection, targetID string, limit int) ([]*Log, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Log
	for i := len(r.order) - 1; i >= 0; i-- {
		log := r.logs[r.order[i]]
		if log.TargetCollection == collection && log.TargetID == targetID {
			logCopy := *log
			results = append(results, &logCopy)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// QueryByAction retrieves audit logs for a specific action name, newest first.
func (r *InMemoryRepository) QueryByAction(action string, limit int) ([]*Log, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Log
	for i := len(r.order) - 1; i >= 0; i-- {
		log := r.logs[r.order[i]]
		if log.Action == action {
			logCopy := *log
			results = append(results, &logCopy)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}
