package enrollment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/courseledger/internal/audit"
)

// Service exposes the manual review operations on enrollment records. The
// approval signal is the one input to the access status that humans own;
// every change recomputes the derived status in the same transaction and is
// audited with the reviewer as actor.
type Service struct {
	store     Store
	auditRepo audit.Repository
	logger    *slog.Logger
}

// NewService creates a new enrollment service.
func NewService(store Store, auditRepo audit.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// Get returns the enrollment record for the given user and course.
func (s *Service) Get(ctx context.Context, userID, courseID string) (*Record, error) {
	return s.store.GetByKey(ctx, userID, courseID)
}

// Approve marks the enrollment approved by the given reviewer and returns the
// updated record.
func (s *Service) Approve(ctx context.Context, userID, courseID, reviewerUID string) (*Record, error) {
	return s.setApproval(ctx, userID, courseID, reviewerUID, ApprovalApproved, "enrollment.approved")
}

// Reject marks the enrollment rejected by the given reviewer and returns the
// updated record.
func (s *Service) Reject(ctx context.Context, userID, courseID, reviewerUID string) (*Record, error) {
	return s.setApproval(ctx, userID, courseID, reviewerUID, ApprovalRejected, "enrollment.rejected")
}

func (s *Service) setApproval(ctx context.Context, userID, courseID, reviewerUID, approval, action string) (*Record, error) {
	var before string
	updated, err := s.store.Mutate(ctx, userID, courseID, func(r *Record) error {
		before = r.AccessStatus
		r.ApprovalStatus = approval
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set approval status: %w", err)
	}

	s.logger.InfoContext(ctx, "approval status changed",
		"enrollment", updated.Key(),
		"approval_status", approval,
		"access_status", updated.AccessStatus,
		"reviewer", reviewerUID)

	err = audit.Record(ctx, s.auditRepo, audit.Entry{
		Actor:            audit.Actor{UID: reviewerUID, Role: "admin"},
		Action:           action,
		TargetCollection: "enrollments",
		TargetID:         updated.Key(),
		Summary:          fmt.Sprintf("Enrollment %s by %s", approval, reviewerUID),
		AccessBefore:     before,
		AccessAfter:      updated.AccessStatus,
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
