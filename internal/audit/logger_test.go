package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/courseledger/internal/middleware"
)

func validEntry() Entry {
	return Entry{
		Actor:            SystemWebhook,
		Action:           "billing.payment_confirmed",
		TargetCollection: "enrollments",
		TargetID:         "user1_course1",
		Summary:          "Invoice in_1 paid",
	}
}

func TestRecord(t *testing.T) {
	repo := NewInMemoryRepository()

	if err := Record(context.Background(), repo, validEntry()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	logs, err := repo.QueryByAction("billing.payment_confirmed", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("count = %d, want 1", len(logs))
	}
}

func TestRecord_NilRepository(t *testing.T) {
	err := Record(context.Background(), nil, validEntry())
	if !errors.Is(err, ErrNilRepository) {
		t.Errorf("Record() error = %v, want ErrNilRepository", err)
	}
}

func TestRecord_InvalidAction(t *testing.T) {
	repo := NewInMemoryRepository()

	tests := []string{"", "billing.unknown_action", "enrollment.deleted"}
	for _, action := range tests {
		entry := validEntry()
		entry.Action = action
		err := Record(context.Background(), repo, entry)
		if !errors.Is(err, ErrInvalidAction) {
			t.Errorf("Record(action=%q) error = %v, want ErrInvalidAction", action, err)
		}
	}
}

func TestRecord_InvalidTarget(t *testing.T) {
	repo := NewInMemoryRepository()

	missingCollection := validEntry()
	missingCollection.TargetCollection = ""
	if err := Record(context.Background(), repo, missingCollection); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Record() error = %v, want ErrInvalidTarget", err)
	}

	missingID := validEntry()
	missingID.TargetID = ""
	if err := Record(context.Background(), repo, missingID); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Record() error = %v, want ErrInvalidTarget", err)
	}
}

func TestRecord_FillsRequestIDFromContext(t *testing.T) {
	repo := NewInMemoryRepository()

	// The request id lands in the context the way the middleware puts it there.
	var ctx context.Context
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/internal/stripe", nil))

	if err := Record(ctx, repo, validEntry()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	logs, err := repo.QueryByAction("billing.payment_confirmed", 0)
	if err != nil {
		t.Fatal(err)
	}
	if logs[0].RequestID == "" {
		t.Error("RequestID not filled from context")
	}
	if logs[0].RequestID != middleware.GetRequestID(ctx) {
		t.Errorf("RequestID = %q, want %q", logs[0].RequestID, middleware.GetRequestID(ctx))
	}
}

func TestRecord_KeepsExplicitRequestID(t *testing.T) {
	repo := NewInMemoryRepository()

	entry := validEntry()
	entry.RequestID = "req-explicit"
	if err := Record(context.Background(), repo, entry); err != nil {
		t.Fatal(err)
	}

	logs, _ := repo.QueryByAction("billing.payment_confirmed", 0)
	if logs[0].RequestID != "req-explicit" {
		t.Errorf("RequestID = %q, want req-explicit", logs[0].RequestID)
	}
}
