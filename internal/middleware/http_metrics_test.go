package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/internal/stripe", "/internal/stripe"},
		{"/health", "/health"},
		{"/ready", "/ready"},
		{"/metrics", "/metrics"},
		{"/admin/enrollments/user1/course1", "/admin/enrollments/{user_id}/{course_id}"},
		{"/admin/enrollments/user1/course1/approve", "/admin/enrollments/{user_id}/{course_id}/approve"},
		{"/admin/enrollments/user1/course1/reject", "/admin/enrollments/{user_id}/{course_id}/reject"},
		{"/admin/enrollments/user1/course1/unknown", "/admin/enrollments/user1/course1/unknown"},
		{"/unknown/route", "/unknown/route"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestHTTPMetrics_RecordsNormalizedPath(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatal(err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/enrollments/user1/course1/approve", strings.NewReader("{}"))
	req.Header.Set("Content-Length", "2")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var requests *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "http_requests_total" {
			requests = family
		}
	}
	if requests == nil {
		t.Fatal("http_requests_total not gathered")
	}

	metric := requests.GetMetric()[0]
	labels := make(map[string]string)
	for _, label := range metric.GetLabel() {
		labels[label.GetName()] = label.GetValue()
	}
	if labels["path"] != "/admin/enrollments/{user_id}/{course_id}/approve" {
		t.Errorf("path label = %q, raw path leaked into metrics", labels["path"])
	}
	if labels["method"] != http.MethodPost || labels["status"] != "200" {
		t.Errorf("labels = %v", labels)
	}
	if metric.GetCounter().GetValue() != 1 {
		t.Errorf("count = %v, want 1", metric.GetCounter().GetValue())
	}
}

// Probe endpoints are excluded so scrape noise never shows up in metrics.
func TestHTTPMetrics_SkipsProbeEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatal(err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/ready"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, family := range families {
		if family.GetName() == "http_requests_total" && len(family.GetMetric()) > 0 {
			t.Error("probe endpoints recorded in http_requests_total")
		}
	}
}
