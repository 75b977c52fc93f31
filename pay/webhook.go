package pay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"farmstand/metrics"
	"farmstand/orders"
	"farmstand/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

const maxWebhookBytes = int64(65536)

var ErrBadSignature = errors.New("webhook signature verification failed")

// PaymentReconciler applies processor outcomes to orders. applied reports
// whether this delivery changed anything.
type PaymentReconciler interface {
	MarkPaid(ctx context.Context, orderID, intentID string) (applied bool, err error)
	MarkPaymentFailed(ctx context.Context, orderID, intentID string) (applied bool, err error)
}

type WebhookHandler struct {
	orders  PaymentReconciler
	secret  string
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewWebhookHandler(rec PaymentReconciler, secret string, m *metrics.Metrics, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{orders: rec, secret: secret, metrics: m, log: log}
}

// VerifyWebhook checks the signature header against the exact raw body.
func VerifyWebhook(payload []byte, header, secret string) (stripe.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, header, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return ev, errors.Join(ErrBadSignature, err)
	}
	return ev, nil
}

// POST /api/webhooks/stripe
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if h.secret == "" {
		h.log.Error("webhook received but no signing secret configured")
		utils.RespondWithError(w, http.StatusInternalServerError, "Webhook not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	event, err := VerifyWebhook(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.log.Warn("webhook rejected", zap.Error(err))
		h.metrics.WebhookEvent("unknown", "bad_signature")
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	log := h.log.With(zap.String("eventId", event.ID), zap.String("type", string(event.Type)))

	var apply func(context.Context, string, string) (bool, error)
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		apply = h.orders.MarkPaid
	case stripe.EventTypePaymentIntentPaymentFailed:
		apply = h.orders.MarkPaymentFailed
	default:
		log.Debug("ignoring webhook event")
		h.metrics.WebhookEvent(string(event.Type), "ignored")
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"received": true})
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Warn("malformed payment intent", zap.Error(err))
		utils.RespondWithError(w, http.StatusBadRequest, "Malformed event payload")
		return
	}
	orderID := pi.Metadata["orderId"]
	if orderID == "" {
		log.Warn("payment intent without orderId", zap.String("intentId", pi.ID))
		h.metrics.WebhookEvent(string(event.Type), "missing_order")
		utils.RespondWithError(w, http.StatusBadRequest, "Missing orderId metadata")
		return
	}

	applied, err := apply(r.Context(), orderID, pi.ID)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		log.Warn("webhook for unknown order", zap.String("orderId", orderID))
		h.metrics.WebhookEvent(string(event.Type), "not_found")
		utils.RespondWithError(w, http.StatusNotFound, "Order not found")
		return
	case err != nil:
		log.Error("webhook apply failed", zap.String("orderId", orderID), zap.Error(err))
		h.metrics.WebhookEvent(string(event.Type), "error")
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	outcome := "duplicate"
	if applied {
		outcome = "applied"
	}
	h.metrics.WebhookEvent(string(event.Type), outcome)
	log.Info("webhook processed", zap.String("orderId", orderID), zap.Bool("applied", applied))
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"received": true})
}

// GET /api/webhooks/stripe
func (h *WebhookHandler) Probe(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "Stripe webhook endpoint is reachable"})
}
