// Package stripe implements the payment provider port with Stripe.
// The credit grant itself happens on the payment confirmation webhook, not
// at intent creation.
package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// Config holds Stripe credentials.
type Config struct {
	SecretKey string
}

// Provider implements domain.PaymentProvider for Stripe.
type Provider struct {
	config Config
}

// NewProvider creates a new Stripe payment provider.
func NewProvider(config Config) (*Provider, error) {
	if config.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	stripe.Key = config.SecretKey
	return &Provider{config: config}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stripe"
}

// CreateCustomer creates a customer in Stripe, tagged with the account ID.
func (p *Provider) CreateCustomer(_ context.Context, email, accountID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.AddMetadata("account_id", accountID)

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe customer create failed: %w", err)
	}
	return c.ID, nil
}

// Unconfigured is the payment provider used when no Stripe key is present.
// Purchases fail cleanly; everything else in the gateway keeps working.
type Unconfigured struct{}

// CreateCustomer always fails: payments are not configured.
func (Unconfigured) CreateCustomer(context.Context, string, string) (string, error) {
	return "", errors.New("payment provider not configured")
}

// CreatePaymentIntent always fails: payments are not configured.
func (Unconfigured) CreatePaymentIntent(context.Context, int64, string, string, map[string]string) (string, error) {
	return "", errors.New("payment provider not configured")
}

// CreatePaymentIntent initiates a payment and returns the client secret.
func (p *Provider) CreatePaymentIntent(_ context.Context, amountCents int64, currency, customerID string, metadata map[string]string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		Customer: stripe.String(customerID),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe payment intent create failed: %w", err)
	}
	return intent.ClientSecret, nil
}
