package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docsense/internal/core/domain"
)

func TestWorkerMetricsRecordImproveOutcomes(t *testing.T) {
	m := NewWorkerMetrics("worker")

	m.StartImprovement()
	m.FinishImprovement("worker", domain.ImproveDoneTextOnly, 3*time.Second, nil)
	m.StartImprovement()
	m.FinishImprovement("worker", domain.ImproveAlreadyDone, time.Millisecond, nil)
	m.StartImprovement()
	m.FinishImprovement("worker", "", 20*time.Second, domain.WrapError(domain.ErrInferenceTimeout, "improve", errors.New("deadline")))
	m.ObserveQueueLag("worker", 2*time.Second)
	m.ObserveQueueLag("worker", -time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`docsense_worker_feedback_improve_total{outcome="improved_text_only",service="worker"} 1`,
		`docsense_worker_feedback_improve_total{outcome="already_improved",service="worker"} 1`,
		`docsense_worker_feedback_improve_total{outcome="inference_timeout",service="worker"} 1`,
		`docsense_worker_feedback_improve_duration_seconds_count{service="worker",status="error"} 1`,
		`docsense_worker_feedback_improve_in_flight{service="worker"} 0`,
		`docsense_worker_queue_lag_seconds_count{service="worker"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in:\n%s", want, body)
		}
	}
}
