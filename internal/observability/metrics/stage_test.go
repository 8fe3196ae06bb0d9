package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveStageAndRender(t *testing.T) {
	ObserveStage("data_pull", "done", 120*time.Millisecond)
	ObserveStage("data_pull", "done", 2*time.Second)
	ObserveStage("tx_preparation", "error", 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()

	if !strings.Contains(body, `agentbet_stage_rounds_total{stage="data_pull",event="done"} 2`) {
		t.Fatalf("missing data_pull counter:\n%s", body)
	}
	if !strings.Contains(body, `agentbet_stage_rounds_total{stage="tx_preparation",event="error"} 1`) {
		t.Fatalf("missing tx_preparation counter:\n%s", body)
	}
	if !strings.Contains(body, `agentbet_stage_duration_seconds_count{stage="data_pull"} 2`) {
		t.Fatalf("missing duration count:\n%s", body)
	}
	if !strings.Contains(body, `le="+Inf"`) {
		t.Fatalf("histogram must expose the +Inf bucket:\n%s", body)
	}
}
