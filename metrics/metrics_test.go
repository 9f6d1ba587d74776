package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BallotSubmitted("ok")
	m.TallyCASRetry()
	m.MessageSent("text")
	m.SubscriptionOpened()
	m.ObserveRequest(http.MethodGet, 200, time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 from nil metrics handler, got %d", w.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.BallotSubmitted("ok")
	m.BallotSubmitted("already_voted")
	m.TallyCASRetry()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	for _, want := range []string{
		`kpuvote_ballots_submitted_total{outcome="ok"} 1`,
		`kpuvote_ballots_submitted_total{outcome="already_voted"} 1`,
		`kpuvote_tally_cas_retries_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
