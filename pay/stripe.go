package pay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"farmstand/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

var ErrInvalidAmount = errors.New("payment amount must be positive")

// StripeBridge talks to the card processor through a scoped API client,
// so the process never touches the package-level stripe.Key.
type StripeBridge struct {
	api      *client.API
	currency string
}

func NewStripeBridge(secretKey, currency string) *StripeBridge {
	if currency == "" {
		currency = "usd"
	}
	return &StripeBridge{api: client.New(secretKey, nil), currency: strings.ToLower(currency)}
}

// MinorUnits converts a major-unit amount to the processor's integer
// minor units, rounding half away from zero.
func MinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (b *StripeBridge) CreateIntent(ctx context.Context, amount float64, orderID string) (*models.PaymentIntent, error) {
	cents := MinorUnits(amount)
	if cents <= 0 {
		return nil, ErrInvalidAmount
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(b.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("orderId", orderID)
	params.SetIdempotencyKey("order-" + orderID)

	pi, err := b.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (b *StripeBridge) RetrieveIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := b.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (b *StripeBridge) CancelIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := b.api.PaymentIntents.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel payment intent: %w", err)
	}
	return nil
}

func (b *StripeBridge) Refund(ctx context.Context, intentID string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + intentID)
	if _, err := b.api.Refunds.New(params); err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	return nil
}

func toIntent(pi *stripe.PaymentIntent) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}
}
