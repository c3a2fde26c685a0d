package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// queryTimeout bounds audit writes and reads; the repository interface carries
// no context, so the implementation owns the deadline.
const queryTimeout = 5 * time.Second

// PostgresRepository is a PostgreSQL implementation of Repository backed by
// the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres audit repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const auditColumns = `id, actor_uid, actor_role, action, target_collection,
	target_id, summary, created_at, access_before, access_after, request_id, event_id`

// Append records an audit event.
func (r *PostgresRepository) Append(entry Entry) (*Log, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

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

	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO audit_logs (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, auditColumns),
		log.ID, log.Actor.UID, log.Actor.Role, log.Action, log.TargetCollection,
		log.TargetID, log.Summary, log.CreatedAt,
		nullIfEmpty(log.AccessBefore), nullIfEmpty(log.AccessAfter),
		nullIfEmpty(log.RequestID), nullIfEmpty(log.EventID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit log: %w", err)
	}

	logCopy := *log
	return &logCopy, nil
}

// QueryByTarget retrieves audit logs for a specific target, newest first.
func (r *PostgresRepository) QueryByTarget(collection, targetID string, limit int) ([]*Log, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_logs
		WHERE target_collection = $1 AND target_id = $2
		ORDER BY created_at DESC
	`, auditColumns)
	return r.query(query, []any{collection, targetID}, limit)
}

// QueryByAction retrieves audit logs for a specific action name, newest first.
func (r *PostgresRepository) QueryByAction(action string, limit int) ([]*Log, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_logs
		WHERE action = $1
		ORDER BY created_at DESC
	`, auditColumns)
	return r.query(query, []any{action}, limit)
}

func (r *PostgresRepository) query(query string, args []any, limit int) ([]*Log, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var results []*Log
	for rows.Next() {
		var log Log
		var accessBefore, accessAfter, requestID, eventID sql.NullString
		err := rows.Scan(
			&log.ID, &log.Actor.UID, &log.Actor.Role, &log.Action,
			&log.TargetCollection, &log.TargetID, &log.Summary, &log.CreatedAt,
			&accessBefore, &accessAfter, &requestID, &eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.AccessBefore = accessBefore.String
		log.AccessAfter = accessAfter.String
		log.RequestID = requestID.String
		log.EventID = eventID.String
		results = append(results, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return results, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
