package billing

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Double registration must fail.
	if err := metrics.Register(reg); err == nil {
		t.Error("Register() expected error on duplicate registration")
	}
}

func TestMetrics_ObserveEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatal(err)
	}

	metrics.ObserveEvent("invoice.paid", OutcomeLabelProcessed, 25*time.Millisecond)
	metrics.ObserveEvent("invoice.paid", OutcomeLabelProcessed, 40*time.Millisecond)
	metrics.ObserveEvent("invoice.paid", OutcomeLabelDuplicate, time.Millisecond)

	family := gatherFamily(t, reg, MetricEventsTotal)
	if family == nil {
		t.Fatalf("%s not gathered", MetricEventsTotal)
	}
	counts := make(map[string]float64)
	for _, metric := range family.GetMetric() {
		counts[labelValue(metric, "outcome")] = metric.GetCounter().GetValue()
	}
	if counts[OutcomeLabelProcessed] != 2 {
		t.Errorf("processed count = %v, want 2", counts[OutcomeLabelProcessed])
	}
	if counts[OutcomeLabelDuplicate] != 1 {
		t.Errorf("duplicate count = %v, want 1", counts[OutcomeLabelDuplicate])
	}

	durations := gatherFamily(t, reg, MetricEventDuration)
	if durations == nil {
		t.Fatalf("%s not gathered", MetricEventDuration)
	}
	if got := durations.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("duration sample count = %d, want 3", got)
	}
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatal(err)
	}

	metrics.RecordGap("invoice.paid")
	metrics.RecordHandlerError("customer.subscription.updated")
	metrics.RecordRetry(StatusSuccess)
	metrics.RecordRetry(StatusFailure)

	tests := []struct {
		family string
		label  string
		value  string
		want   float64
	}{
		{MetricReconciliationGapsTotal, "event_type", "invoice.paid", 1},
		{MetricHandlerErrorsTotal, "event_type", "customer.subscription.updated", 1},
		{MetricRetryRunsTotal, "result", StatusSuccess, 1},
		{MetricRetryRunsTotal, "result", StatusFailure, 1},
	}
	for _, tt := range tests {
		family := gatherFamily(t, reg, tt.family)
		if family == nil {
			t.Errorf("%s not gathered", tt.family)
			continue
		}
		var found bool
		for _, metric := range family.GetMetric() {
			if labelValue(metric, tt.label) == tt.value {
				found = true
				if got := metric.GetCounter().GetValue(); got != tt.want {
					t.Errorf("%s{%s=%q} = %v, want %v", tt.family, tt.label, tt.value, got, tt.want)
				}
			}
		}
		if !found {
			t.Errorf("%s{%s=%q} not found", tt.family, tt.label, tt.value)
		}
	}
}

// All recording methods must be safe on a nil receiver so wiring metrics stays
// optional.
func TestMetrics_NilReceiver(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveEvent("invoice.paid", OutcomeLabelProcessed, time.Second)
	metrics.RecordGap("invoice.paid")
	metrics.RecordHandlerError("invoice.paid")
	metrics.RecordRetry(StatusSuccess)
}
