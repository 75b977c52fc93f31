package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/api/products", "200", 0.01)
	m.OrderCreated("stripe")
	m.WebhookEvent("payment_intent.succeeded", "applied")
	m.CacheLookup(true)
	m.NotificationFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`http_requests_total{method="GET",route="/api/products",status="200"} 1`,
		`orders_created_total{payment_method="stripe"} 1`,
		`webhook_events_total{outcome="applied",type="payment_intent.succeeded"} 1`,
		`catalog_cache_requests_total{result="hit"} 1`,
		`notifications_failed_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET", "/", "200", 1)
	m.OrderCreated("cash")
	m.WebhookEvent("x", "y")
	m.CacheLookup(false)
	m.NotificationFailed()
}
