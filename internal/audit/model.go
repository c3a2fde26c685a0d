// Package audit provides audit logging for state-changing billing and
// enrollment operations, retained as evidence for incident response and
// out-of-band reconciliation.
package audit

import (
	"time"
)

// Actor identifies who performed an audited action. Webhook-driven changes
// use UID "system" with role "webhook".
type Actor struct {
	UID  string
	Role string
}

// SystemWebhook is the actor for changes applied by the billing event pipeline.
var SystemWebhook = Actor{UID: "system", Role: "webhook"}

// Log represents a single recorded audit event.
type Log struct {
	ID               string
	Actor            Actor
	Action           string
	TargetCollection string
	TargetID         string
	Summary          string
	CreatedAt        time.Time

	// Access-status transition described by this event.
	AccessBefore string
	AccessAfter  string

	// Optional metadata
	RequestID string
	EventID   string // provider event id that caused the change, if any
}

// Entry represents the input for creating an audit log entry.
type Entry struct {
	Actor            Actor
	Action           string
	TargetCollection string
	TargetID         string
	Summary          string

	AccessBefore string
	AccessAfter  string

	// Optional metadata
	RequestID string
	EventID   string
}
