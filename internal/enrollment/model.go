// Package enrollment provides models, the access-status resolver, and
// repositories for course enrollment records driven by billing events.
package enrollment

import "time"

// PaymentStatus values for an enrollment's payment signal.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// ApprovalStatus values for the manual review signal.
const (
	ApprovalPendingReview = "pending_review"
	ApprovalApproved      = "approved"
	ApprovalRejected      = "rejected"
)

// SubscriptionStatus values mirror the provider's subscription lifecycle
// vocabulary. Only these six are stored; anything else from the provider is a
// programming error upstream.
const (
	SubscriptionActive     = "active"
	SubscriptionPastDue    = "past_due"
	SubscriptionCanceled   = "canceled"
	SubscriptionIncomplete = "incomplete"
	SubscriptionTrialing   = "trialing"
	SubscriptionUnpaid     = "unpaid"
)

// AccessStatus values derived by ComputeAccessStatus. Never set directly.
const (
	AccessActive          = "active"
	AccessPending         = "pending"
	AccessPendingApproval = "pending_approval"
	AccessPastDue         = "past_due"
	AccessCanceled        = "canceled"
	AccessRejected        = "rejected"
)

// Record is the per-(user, course) enrollment state. It exists once logically
// but is persisted twice: in a global collection and a user-scoped collection,
// which must never diverge.
type Record struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`

	PaymentStatus      string `json:"payment_status"`
	ApprovalStatus     string `json:"approval_status"`
	SubscriptionStatus string `json:"subscription_status"`

	// AccessStatus is always recomputed from the three signals above in the
	// same transaction that mutates any of them.
	AccessStatus string `json:"access_status"`

	// Provider correlation ids.
	CustomerID      string `json:"customer_id,omitempty"`
	SubscriptionID  string `json:"subscription_id,omitempty"`
	LatestInvoiceID string `json:"latest_invoice_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastPaidAt *time.Time `json:"last_paid_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Key returns the canonical composite key "{userID}_{courseID}".
func Key(userID, courseID string) string {
	return userID + "_" + courseID
}

// Key returns the record's canonical composite key.
func (r *Record) Key() string {
	return Key(r.UserID, r.CourseID)
}
