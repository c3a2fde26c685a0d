package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/courseledger/internal/enrollment"
	"github.com/onnwee/courseledger/internal/middleware"
)

// ApprovalHandlers holds dependencies for the manual enrollment review endpoints.
type ApprovalHandlers struct {
	service *enrollment.Service
}

// NewApprovalHandlers creates a new ApprovalHandlers instance.
func NewApprovalHandlers(service *enrollment.Service) *ApprovalHandlers {
	return &ApprovalHandlers{service: service}
}

// EnrollmentResponse is the JSON projection of an enrollment record returned
// by the review endpoints.
type EnrollmentResponse struct {
	UserID             string `json:"user_id"`
	CourseID           string `json:"course_id"`
	PaymentStatus      string `json:"payment_status"`
	ApprovalStatus     string `json:"approval_status"`
	SubscriptionStatus string `json:"subscription_status"`
	AccessStatus       string `json:"access_status"`
	UpdatedAt          string `json:"updated_at"`
}

// Approve handles POST /admin/enrollments/{userId}/{courseId}/approve.
func (h *ApprovalHandlers) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "approve")
}

// Reject handles POST /admin/enrollments/{userId}/{courseId}/reject.
func (h *ApprovalHandlers) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "reject")
}

func (h *ApprovalHandlers) review(w http.ResponseWriter, r *http.Request, verb string) {
	ctx := r.Context()

	reviewerUID := middleware.GetUserUID(ctx)
	if reviewerUID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	// Path shape: /admin/enrollments/{userId}/{courseId}/{verb}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/admin/enrollments/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] != verb {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "user ID and course ID are required")
		return
	}
	userID, courseID := parts[0], parts[1]

	var (
		rec *enrollment.Record
		err error
	)
	if verb == "approve" {
		rec, err = h.service.Approve(ctx, userID, courseID, reviewerUID)
	} else {
		rec, err = h.service.Reject(ctx, userID, courseID, reviewerUID)
	}
	if err != nil {
		if errors.Is(err, enrollment.ErrEnrollmentNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "enrollment not found")
			return
		}
		slog.ErrorContext(ctx, "failed to update approval status",
			"user_id", userID, "course_id", courseID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to update enrollment")
		return
	}

	response := EnrollmentResponse{
		UserID:             rec.UserID,
		CourseID:           rec.CourseID,
		PaymentStatus:      rec.PaymentStatus,
		ApprovalStatus:     rec.ApprovalStatus,
		SubscriptionStatus: rec.SubscriptionStatus,
		AccessStatus:       rec.AccessStatus,
		UpdatedAt:          rec.UpdatedAt.UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(ctx, "failed to encode enrollment response", "error", err)
	}
}

// GetEnrollment handles GET /admin/enrollments/{userId}/{courseId} for
// reviewer inspection before a decision.
func (h *ApprovalHandlers) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if middleware.GetUserUID(ctx) == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/admin/enrollments/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "user ID and course ID are required")
		return
	}

	rec, err := h.service.Get(ctx, parts[0], parts[1])
	if err != nil {
		if errors.Is(err, enrollment.ErrEnrollmentNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "enrollment not found")
			return
		}
		slog.ErrorContext(ctx, "failed to retrieve enrollment", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to retrieve enrollment")
		return
	}

	response := EnrollmentResponse{
		UserID:             rec.UserID,
		CourseID:           rec.CourseID,
		PaymentStatus:      rec.PaymentStatus,
		ApprovalStatus:     rec.ApprovalStatus,
		SubscriptionStatus: rec.SubscriptionStatus,
		AccessStatus:       rec.AccessStatus,
		UpdatedAt:          rec.UpdatedAt.UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(ctx, "failed to encode enrollment response", "error", err)
	}
}
