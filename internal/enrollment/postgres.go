package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/courseledger/internal/tracing"
)

// PostgresStore implements Store using PostgreSQL. The global and user-scoped
// copies live in the enrollments and user_enrollments tables; every write
// updates both inside one transaction.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

const enrollmentColumns = `user_id, course_id, payment_status, approval_status,
	subscription_status, access_status, customer_id, subscription_id,
	latest_invoice_id, created_at, updated_at, last_paid_at, ended_at`

// Create inserts the record into both tables in one transaction.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "enrollments", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.AccessStatus = ComputeAccessStatus(rec.PaymentStatus, rec.ApprovalStatus, rec.SubscriptionStatus)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	// Conflicts on the (user_id, course_id) primary key surface as a unique
	// violation rather than a pre-check, so two concurrent checkouts for the
	// same pair cannot both pass a read and then collide on insert.
	for _, table := range []string{"enrollments", "user_enrollments"} {
		insert := fmt.Sprintf(`
			INSERT INTO %s (%s)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, table, enrollmentColumns)
		_, err = tx.ExecContext(ctx, insert,
			rec.UserID, rec.CourseID, rec.PaymentStatus, rec.ApprovalStatus,
			rec.SubscriptionStatus, rec.AccessStatus,
			nullIfEmpty(rec.CustomerID), nullIfEmpty(rec.SubscriptionID),
			nullIfEmpty(rec.LatestInvoiceID),
			rec.CreatedAt, rec.UpdatedAt, rec.LastPaidAt, rec.EndedAt)
		if isUniqueViolation(err) {
			return ErrEnrollmentExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrollment insert: %w", err)
	}
	return nil
}

// GetByKey retrieves a record by primary key from the global table.
func (s *PostgresStore) GetByKey(ctx context.Context, userID, courseID string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND course_id = $2`, enrollmentColumns)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, userID, courseID))
	if err == sql.ErrNoRows {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollment: %w", err)
	}
	return rec, nil
}

// GetBySubscriptionID retrieves the single record for a subscription id.
// LIMIT 2 is enough to distinguish zero, one, and ambiguous matches.
func (s *PostgresStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE subscription_id = $1 LIMIT 2`, enrollmentColumns)
	rows, err := s.db.QueryContext(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollment by subscription: %w", err)
	}
	defer rows.Close()

	var found *Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		if found != nil {
			return nil, ErrAmbiguousSubscription
		}
		found = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrollments: %w", err)
	}
	if found == nil {
		return nil, ErrEnrollmentNotFound
	}
	return found, nil
}

// Mutate locks the global row, applies fn, recomputes the access status, and
// updates both tables before committing.
func (s *PostgresStore) Mutate(ctx context.Context, userID, courseID string, fn func(*Record) error) (_ *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "enrollments", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND course_id = $2 FOR UPDATE`, enrollmentColumns)
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, userID, courseID))
	if err == sql.ErrNoRows {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock enrollment: %w", err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}

	rec.AccessStatus = ComputeAccessStatus(rec.PaymentStatus, rec.ApprovalStatus, rec.SubscriptionStatus)
	rec.UpdatedAt = time.Now().UTC()

	for _, table := range []string{"enrollments", "user_enrollments"} {
		update := fmt.Sprintf(`
			UPDATE %s SET
				payment_status = $3, approval_status = $4, subscription_status = $5,
				access_status = $6, customer_id = $7, subscription_id = $8,
				latest_invoice_id = $9, updated_at = $10, last_paid_at = $11, ended_at = $12
			WHERE user_id = $1 AND course_id = $2
		`, table)
		_, err = tx.ExecContext(ctx, update,
			rec.UserID, rec.CourseID, rec.PaymentStatus, rec.ApprovalStatus,
			rec.SubscriptionStatus, rec.AccessStatus,
			nullIfEmpty(rec.CustomerID), nullIfEmpty(rec.SubscriptionID),
			nullIfEmpty(rec.LatestInvoiceID),
			rec.UpdatedAt, rec.LastPaidAt, rec.EndedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to update %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enrollment update: %w", err)
	}
	return rec, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var customerID, subscriptionID, latestInvoiceID sql.NullString
	var lastPaidAt, endedAt sql.NullTime
	err := row.Scan(
		&rec.UserID, &rec.CourseID, &rec.PaymentStatus, &rec.ApprovalStatus,
		&rec.SubscriptionStatus, &rec.AccessStatus,
		&customerID, &subscriptionID, &latestInvoiceID,
		&rec.CreatedAt, &rec.UpdatedAt, &lastPaidAt, &endedAt)
	if err != nil {
		return nil, err
	}
	rec.CustomerID = customerID.String
	rec.SubscriptionID = subscriptionID.String
	rec.LatestInvoiceID = latestInvoiceID.String
	if lastPaidAt.Valid {
		t := lastPaidAt.Time
		rec.LastPaidAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return &rec, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// rollback attempts a rollback and logs anything other than ErrTxDone.
func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
	}
}
