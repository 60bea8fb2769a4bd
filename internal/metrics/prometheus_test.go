package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegisterAndRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordInterviewStarted()
	m.SetCurrentQuestion(2)
	m.RecordTurn(true)
	m.RecordTurn(false)
	m.RecordFailure("transcription_failed")
	m.ObserveStageDuration("transcription", 1200*time.Millisecond)
	m.SetActiveCaptures(1)
	m.RecordCaptureFinalized(3*time.Second, 96000)
	m.RecordHTTPRequest("GET", "/status", "200", 0.004)
	m.RecordInterviewCompleted(2 * time.Minute)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}

	expected := []string{
		"consult_interviews_started_total",
		"consult_interviews_completed_total",
		"consult_interview_active",
		"consult_current_question_index",
		"consult_turns_processed_total",
		"consult_failures_total",
		"consult_stage_duration_seconds",
		"consult_active_captures",
		"consult_capture_duration_seconds",
		"consult_http_requests_total",
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("expected metric family %s to be registered", name)
		}
	}
}

func TestMetricsSeparateRegistries(t *testing.T) {
	// Two instances must not collide when given separate registries.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
