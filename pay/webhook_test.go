package pay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"farmstand/orders"

	"go.uber.org/zap"
)

const testSecret = "whsec_test"

func sign(payload string, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func event(typ, orderID string) string {
	meta := "{}"
	if orderID != "" {
		meta = `{"orderId":"` + orderID + `"}`
	}
	return `{"id":"evt_1","object":"event","type":"` + typ + `","data":{"object":{"id":"pi_1","object":"payment_intent","metadata":` + meta + `}}}`
}

type fakeReconciler struct {
	mu     sync.Mutex
	paid   map[string]bool
	failed map[string]bool
	known  map[string]bool
	err    error
}

func newReconciler(known ...string) *fakeReconciler {
	f := &fakeReconciler{paid: map[string]bool{}, failed: map[string]bool{}, known: map[string]bool{}}
	for _, k := range known {
		f.known[k] = true
	}
	return f
}

func (f *fakeReconciler) MarkPaid(_ context.Context, orderID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if !f.known[orderID] {
		return false, orders.ErrNotFound
	}
	if f.paid[orderID] {
		return false, nil
	}
	f.paid[orderID] = true
	return true, nil
}

func (f *fakeReconciler) MarkPaymentFailed(_ context.Context, orderID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[orderID] {
		return false, orders.ErrNotFound
	}
	f.failed[orderID] = true
	return true, nil
}

func post(h *WebhookHandler, payload, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	h.Handle(rec, req, nil)
	return rec
}

func TestWebhookMarksPaidOnce(t *testing.T) {
	rc := newReconciler("order1")
	h := NewWebhookHandler(rc, testSecret, nil, zap.NewNop())
	payload := event("payment_intent.succeeded", "order1")

	for i := 0; i < 2; i++ {
		rec := post(h, payload, sign(payload, testSecret, time.Now()))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d body = %s", i, rec.Code, rec.Body)
		}
	}
	if !rc.paid["order1"] {
		t.Fatal("order not marked paid")
	}
}

func TestWebhookBadSignature(t *testing.T) {
	rc := newReconciler("order1")
	h := NewWebhookHandler(rc, testSecret, nil, zap.NewNop())
	payload := event("payment_intent.succeeded", "order1")

	cases := map[string]string{
		"wrong secret": sign(payload, "whsec_other", time.Now()),
		"stale":        sign(payload, testSecret, time.Now().Add(-time.Hour)),
		"missing":      "",
		"garbage":      "t=abc,v1=zz",
	}
	for name, sig := range cases {
		if rec := post(h, payload, sig); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", name, rec.Code)
		}
	}
	if len(rc.paid) != 0 {
		t.Fatal("state changed on a rejected webhook")
	}
}

func TestWebhookTamperedBody(t *testing.T) {
	rc := newReconciler("order1", "order2")
	h := NewWebhookHandler(rc, testSecret, nil, zap.NewNop())
	sig := sign(event("payment_intent.succeeded", "order1"), testSecret, time.Now())
	if rec := post(h, event("payment_intent.succeeded", "order2"), sig); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		err     error
		want    int
	}{
		{"missing order id", event("payment_intent.succeeded", ""), nil, http.StatusBadRequest},
		{"unknown order", event("payment_intent.succeeded", "ghost"), nil, http.StatusNotFound},
		{"store failure", event("payment_intent.succeeded", "order1"), errors.New("mongo down"), http.StatusInternalServerError},
		{"payment failed", event("payment_intent.payment_failed", "order1"), nil, http.StatusOK},
		{"ignored type", event("charge.refunded", ""), nil, http.StatusOK},
	}
	for _, c := range cases {
		rc := newReconciler("order1")
		rc.err = c.err
		h := NewWebhookHandler(rc, testSecret, nil, zap.NewNop())
		if rec := post(h, c.payload, sign(c.payload, testSecret, time.Now())); rec.Code != c.want {
			t.Errorf("%s: status = %d, want %d (%s)", c.name, rec.Code, c.want, rec.Body)
		}
	}
}

func TestWebhookWithoutSecret(t *testing.T) {
	h := NewWebhookHandler(newReconciler(), "", nil, zap.NewNop())
	payload := event("payment_intent.succeeded", "order1")
	if rec := post(h, payload, sign(payload, testSecret, time.Now())); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMinorUnits(t *testing.T) {
	cases := map[float64]int64{19.99: 1999, 0.1 + 0.2: 30, 10: 1000, 2.675: 268}
	for in, want := range cases {
		if got := MinorUnits(in); got != want {
			t.Errorf("MinorUnits(%v) = %d, want %d", in, got, want)
		}
	}
}
