package handlers_test

import (
	"net/http"
	"testing"
)

func TestHealthzReportsSnapshot(t *testing.T) {
	rg := newRig(t, 4, 2, 0)

	rr := rg.do(t, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["model_loaded"] != true {
		t.Fatalf("body = %v", body)
	}
	if body["model"] != "stable-diffusion-v1-5" || body["device"] != "cpu" {
		t.Fatalf("model info = %v/%v", body["model"], body["device"])
	}
	if capacity, _ := body["queue_capacity"].(float64); capacity != 4 {
		t.Fatalf("queue_capacity = %v, want 4", body["queue_capacity"])
	}
	workers, ok := body["workers"].(map[string]any)
	if !ok {
		t.Fatalf("workers = %v", body["workers"])
	}
	if total, _ := workers["total"].(float64); total != 2 {
		t.Fatalf("workers.total = %v, want 2", workers["total"])
	}
	if body["version"] != "test" {
		t.Fatalf("version = %v", body["version"])
	}
}

func TestStatsReportsCounters(t *testing.T) {
	rg := newRig(t, 1, 0, 0)

	if rr := rg.do(t, http.MethodPost, "/v1/generate", smallBody("first")); rr.Code != http.StatusAccepted {
		t.Fatalf("first submit = %d", rr.Code)
	}
	if rr := rg.do(t, http.MethodPost, "/v1/generate", smallBody("second")); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit = %d, want 429", rr.Code)
	}

	rr := rg.do(t, http.MethodGet, "/v1/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if sub, _ := body["submitted"].(float64); sub != 1 {
		t.Fatalf("submitted = %v, want 1", body["submitted"])
	}
	if rej, _ := body["rejected"].(float64); rej != 1 {
		t.Fatalf("rejected = %v, want 1", body["rejected"])
	}
	if queued, _ := body["queued"].(float64); queued != 1 {
		t.Fatalf("queued = %v, want 1", body["queued"])
	}
}
