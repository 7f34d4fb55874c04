package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/webhook"
)

const providerStripe = "stripe"

// StripeConfig carries the keys for the Stripe provider.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

// StripeProvider implements Provider with Stripe PaymentIntents.
type StripeProvider struct {
	publishableKey string
	webhookSecret  string
	testMode       bool
}

// NewStripeProvider validates the keys and sets the global Stripe key.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, ErrNotConfigured
	}
	testMode, err := keyMode(secret)
	if err != nil {
		return nil, err
	}
	publishable := strings.TrimSpace(cfg.PublishableKey)
	if publishable != "" && strings.HasPrefix(publishable, "pk_test") != testMode {
		return nil, errors.New("stripe publishable key and secret key are for different modes")
	}

	stripe.Key = secret

	return &StripeProvider{
		publishableKey: publishable,
		webhookSecret:  strings.TrimSpace(cfg.WebhookSecret),
		testMode:       testMode,
	}, nil
}

func keyMode(key string) (testMode bool, err error) {
	switch {
	case strings.HasPrefix(key, "sk_test"), strings.HasPrefix(key, "rk_test"):
		return true, nil
	case strings.HasPrefix(key, "sk_live"), strings.HasPrefix(key, "rk_live"):
		return false, nil
	default:
		return false, errors.New("stripe secret key must start with sk_test/rk_test or sk_live/rk_live")
	}
}

func (p *StripeProvider) Name() string { return providerStripe }

func (p *StripeProvider) PublishableKey() string { return p.publishableKey }

func (p *StripeProvider) TestMode() bool { return p.testMode }

func (p *StripeProvider) CreateIntent(ctx context.Context, in CreateIntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.AmountMinor),
		Currency: stripe.String(strings.ToLower(in.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProvider) GetIntent(ctx context.Context, ref string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(ref, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", ref, err)
	}
	return intentFromStripe(pi), nil
}

func (p *StripeProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	if p.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	if signature == "" {
		return nil, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(&event)
}

func decodeEvent(event *stripe.Event) (*Event, error) {
	out := &Event{ID: event.ID, Type: EventType(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}
	switch out.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent event: %w", err)
		}
		out.Intent = *intentFromStripe(&pi)
	}
	return out, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		Ref:          pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}
