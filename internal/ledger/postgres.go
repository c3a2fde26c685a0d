package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/courseledger/internal/tracing"
)

// PostgresLedger implements Ledger using PostgreSQL. The claim transaction
// relies on the primary key on event_id plus a row lock, so concurrent
// deliveries of the same event serialize on the database.
type PostgresLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresLedger creates a new PostgresLedger.
func NewPostgresLedger(db *sql.DB, logger *slog.Logger) *PostgresLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLedger{db: db, logger: logger}
}

// Claim executes the check-and-claim transaction against stripe_events.
func (l *PostgresLedger) Claim(ctx context.Context, eventID, eventType string, payload []byte) (_ ClaimResult, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "stripe_events", tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			l.logger.Warn("failed to rollback claim transaction", slog.String("error", err.Error()))
		}
	}()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO stripe_events (event_id, type, status, received_at, processing_started_at, attempts, payload)
		VALUES ($1, $2, $3, $4, $4, 1, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, StatusProcessing, now, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read insert result: %w", err)
	}

	result := FirstClaim
	if inserted == 0 {
		var status string
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM stripe_events WHERE event_id = $1 FOR UPDATE`,
			eventID).Scan(&status)
		if err != nil {
			return 0, fmt.Errorf("failed to lock existing ledger entry: %w", err)
		}

		switch status {
		case StatusDone:
			result = AlreadyDone
		case StatusProcessing:
			result = AlreadyProcessing
		default: // StatusError: re-take the claim
			_, err = tx.ExecContext(ctx, `
				UPDATE stripe_events
				SET status = $2, processing_started_at = $3, attempts = attempts + 1
				WHERE event_id = $1
			`, eventID, StatusProcessing, now)
			if err != nil {
				return 0, fmt.Errorf("failed to re-claim errored entry: %w", err)
			}
			result = PreviouslyErrored
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return result, nil
}

// MarkDone finalizes the entry as done.
func (l *PostgresLedger) MarkDone(ctx context.Context, eventID string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE stripe_events
		SET status = $2, processed_at = $3, error_message = NULL
		WHERE event_id = $1
	`, eventID, StatusDone, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark ledger entry done: %w", err)
	}
	return requireRow(res)
}

// MarkError finalizes the entry as errored.
func (l *PostgresLedger) MarkError(ctx context.Context, eventID, message string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE stripe_events
		SET status = $2, failed_at = $3, error_message = $4
		WHERE event_id = $1
	`, eventID, StatusError, time.Now().UTC(), message)
	if err != nil {
		return fmt.Errorf("failed to mark ledger entry errored: %w", err)
	}
	return requireRow(res)
}

// Get retrieves the entry for an event id.
func (l *PostgresLedger) Get(ctx context.Context, eventID string) (*Entry, error) {
	entry, err := scanEntry(l.db.QueryRowContext(ctx, `
		SELECT event_id, type, status, received_at, processing_started_at,
		       processed_at, failed_at, error_message, attempts, payload
		FROM stripe_events WHERE event_id = $1
	`, eventID))
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entry: %w", err)
	}
	return entry, nil
}

// ListErrored returns retryable errored entries, oldest first.
func (l *PostgresLedger) ListErrored(ctx context.Context, maxAttempts, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, type, status, received_at, processing_started_at,
		       processed_at, failed_at, error_message, attempts, payload
		FROM stripe_events
		WHERE status = $1 AND attempts < $2
		ORDER BY received_at ASC
		LIMIT $3
	`, StatusError, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query errored ledger entries: %w", err)
	}
	defer rows.Close()

	var results []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var processedAt, failedAt sql.NullTime
	var errorMessage sql.NullString
	err := row.Scan(
		&entry.EventID, &entry.Type, &entry.Status, &entry.ReceivedAt,
		&entry.ProcessingStartedAt, &processedAt, &failedAt, &errorMessage,
		&entry.Attempts, &entry.Payload)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		entry.ProcessedAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		entry.FailedAt = &t
	}
	entry.ErrorMessage = errorMessage.String
	return &entry, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}
