package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"go.uber.org/zap"
)

// ErrNoPaymentMethod is returned when the customer has no usable stored
// payment method for off-session charging.
var ErrNoPaymentMethod = errors.New("customer has no default payment method")

// StripeProcessor charges stored payment methods off-session. It backs
// auto-refill: charges happen without the customer present, against the
// default payment method saved on the Stripe customer.
type StripeProcessor struct {
	logger *zap.Logger

	// Injected for tests
	getCustomer  func(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
	createIntent func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProcessorOption is a functional option for configuring the processor
type StripeProcessorOption func(*StripeProcessor)

// WithStripeLogger sets the logger for the processor
func WithStripeLogger(logger *zap.Logger) StripeProcessorOption {
	return func(p *StripeProcessor) {
		p.logger = logger
	}
}

// NewStripeProcessor creates a Stripe payment processor
func NewStripeProcessor(apiKey string, opts ...StripeProcessorOption) (*StripeProcessor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("stripe api key is required")
	}
	stripe.Key = strings.TrimSpace(apiKey)

	p := &StripeProcessor{
		logger:       zap.NewNop(),
		getCustomer:  customer.Get,
		createIntent: paymentintent.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ChargeOffSession creates and confirms an off-session charge against the
// customer's default payment method. Returns the payment intent id on
// success. Declines surface as errors; the caller decides whether to
// retry on a later trigger.
func (p *StripeProcessor) ChargeOffSession(ctx context.Context, customerID string, amountCents int64, description string) (string, error) {
	if customerID == "" {
		return "", errors.New("customer id is required")
	}
	if amountCents <= 0 {
		return "", fmt.Errorf("invalid charge amount: %d", amountCents)
	}

	cust, err := p.getCustomer(customerID, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return "", fmt.Errorf("failed to load customer %s: %w", customerID, err)
	}

	paymentMethodID := defaultPaymentMethodID(cust)
	if paymentMethodID == "" {
		return "", ErrNoPaymentMethod
	}

	intent, err := p.createIntent(&stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		Customer:      stripe.String(customerID),
		PaymentMethod: stripe.String(paymentMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(description),
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			p.logger.Warn("Stripe charge declined",
				zap.String("customer_id", customerID),
				zap.Int64("amount_cents", amountCents),
				zap.String("decline_code", string(stripeErr.DeclineCode)),
				zap.String("code", string(stripeErr.Code)),
			)
		}
		return "", fmt.Errorf("off-session charge failed: %w", err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("payment intent %s not settled: %s", intent.ID, intent.Status)
	}

	return intent.ID, nil
}

// defaultPaymentMethodID extracts the stored payment method to charge
func defaultPaymentMethodID(cust *stripe.Customer) string {
	if cust == nil || cust.InvoiceSettings == nil || cust.InvoiceSettings.DefaultPaymentMethod == nil {
		return ""
	}
	return cust.InvoiceSettings.DefaultPaymentMethod.ID
}
