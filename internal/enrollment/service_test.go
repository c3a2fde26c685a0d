package enrollment

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/courseledger/internal/audit"
)

func newTestService(t *testing.T) (*Service, *InMemoryStore, *audit.InMemoryRepository) {
	t.Helper()
	store := NewInMemoryStore()
	auditRepo := audit.NewInMemoryRepository()
	return NewService(store, auditRepo, nil), store, auditRepo
}

func seedPaidEnrollment(t *testing.T, store *InMemoryStore) {
	t.Helper()
	rec := newTestRecord("user1", "course1")
	rec.PaymentStatus = PaymentPaid
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestService_Approve(t *testing.T) {
	ctx := context.Background()
	service, store, auditRepo := newTestService(t)
	seedPaidEnrollment(t, store)

	updated, err := service.Approve(ctx, "user1", "course1", "admin-uid")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if updated.ApprovalStatus != ApprovalApproved {
		t.Errorf("ApprovalStatus = %q, want %q", updated.ApprovalStatus, ApprovalApproved)
	}
	if updated.AccessStatus != AccessActive {
		t.Errorf("AccessStatus = %q, want %q", updated.AccessStatus, AccessActive)
	}

	logs, err := auditRepo.QueryByAction("enrollment.approved", 0)
	if err != nil {
		t.Fatalf("QueryByAction() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("audit log count = %d, want 1", len(logs))
	}
	entry := logs[0]
	if entry.Actor.UID != "admin-uid" {
		t.Errorf("audit actor = %q, want admin-uid", entry.Actor.UID)
	}
	if entry.TargetID != "user1_course1" {
		t.Errorf("audit target = %q, want user1_course1", entry.TargetID)
	}
	if entry.AccessBefore != AccessPendingApproval {
		t.Errorf("AccessBefore = %q, want %q", entry.AccessBefore, AccessPendingApproval)
	}
	if entry.AccessAfter != AccessActive {
		t.Errorf("AccessAfter = %q, want %q", entry.AccessAfter, AccessActive)
	}
}

func TestService_Reject(t *testing.T) {
	ctx := context.Background()
	service, store, auditRepo := newTestService(t)
	seedPaidEnrollment(t, store)

	updated, err := service.Reject(ctx, "user1", "course1", "admin-uid")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if updated.ApprovalStatus != ApprovalRejected {
		t.Errorf("ApprovalStatus = %q, want %q", updated.ApprovalStatus, ApprovalRejected)
	}
	if updated.AccessStatus != AccessRejected {
		t.Errorf("AccessStatus = %q, want %q", updated.AccessStatus, AccessRejected)
	}

	logs, err := auditRepo.QueryByTarget("enrollments", "user1_course1", 0)
	if err != nil {
		t.Fatalf("QueryByTarget() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("audit log count = %d, want 1", len(logs))
	}
	if logs[0].Action != "enrollment.rejected" {
		t.Errorf("audit action = %q, want enrollment.rejected", logs[0].Action)
	}
}

// Rejection after approval flips access back off.
func TestService_RejectAfterApprove(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService(t)
	seedPaidEnrollment(t, store)

	if _, err := service.Approve(ctx, "user1", "course1", "admin-uid"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	updated, err := service.Reject(ctx, "user1", "course1", "admin-uid")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if updated.AccessStatus != AccessRejected {
		t.Errorf("AccessStatus = %q, want %q", updated.AccessStatus, AccessRejected)
	}
}

func TestService_ApproveNotFound(t *testing.T) {
	service, _, auditRepo := newTestService(t)

	_, err := service.Approve(context.Background(), "nobody", "nothing", "admin-uid")
	if !errors.Is(err, ErrEnrollmentNotFound) {
		t.Errorf("Approve() error = %v, want ErrEnrollmentNotFound", err)
	}

	logs, _ := auditRepo.QueryByAction("enrollment.approved", 0)
	if len(logs) != 0 {
		t.Errorf("audit log count = %d, want 0 after failed approval", len(logs))
	}
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService(t)
	seedPaidEnrollment(t, store)

	rec, err := service.Get(ctx, "user1", "course1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.UserID != "user1" || rec.CourseID != "course1" {
		t.Errorf("Get() = %s/%s, want user1/course1", rec.UserID, rec.CourseID)
	}

	_, err = service.Get(ctx, "nobody", "nothing")
	if !errors.Is(err, ErrEnrollmentNotFound) {
		t.Errorf("Get() miss error = %v, want ErrEnrollmentNotFound", err)
	}
}
