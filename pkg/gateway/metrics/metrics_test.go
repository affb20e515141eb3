package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_RecordsAndExposes(t *testing.T) {
	m := New("testns")

	m.ObserveRequest("questions", http.MethodPost, 200, 50*time.Millisecond)
	m.ObserveRequest("questions", http.MethodPost, 200, 70*time.Millisecond)
	m.ObserveGeneration("questions", "gemini/gemini-2.0-flash", nil, time.Second)
	m.ObserveGeneration("feedback", "gemini/gemini-2.0-flash", errors.New("boom"), time.Second)
	m.RateLimited("questions")

	body := scrape(t, m)
	for _, want := range []string{
		`testns_requests_total{handler="questions",method="POST",status="200"} 2`,
		`testns_generations_total{kind="questions",model="gemini/gemini-2.0-flash",status="ok"} 1`,
		`testns_generations_total{kind="feedback",model="gemini/gemini-2.0-flash",status="error"} 1`,
		`testns_rate_limit_hits_total{handler="questions"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("x", "GET", 200, time.Millisecond)
	m.ObserveGeneration("x", "m", nil, time.Millisecond)
	m.RateLimited("x")
}
