package payments

import (
	"context"
	"errors"
)

// IntentStatus is the provider-reported state of a payment.
type IntentStatus string

const (
	IntentSucceeded     IntentStatus = "succeeded"
	IntentProcessing    IntentStatus = "processing"
	IntentRequiresInput IntentStatus = "requires_payment_method"
	IntentCanceled      IntentStatus = "canceled"
)

// EventType is a provider event we act on.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
)

// Metadata keys attached to every intent.
const (
	MetaAssetID   = "asset_id"
	MetaOfferID   = "offer_id"
	MetaUserID    = "user_id"
	MetaSessionID = "session_id"
)

var (
	ErrNotConfigured    = errors.New("payment provider is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// CreateIntentParams describes a charge to open with the provider.
type CreateIntentParams struct {
	AmountMinor    int64
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the provider-neutral view of a payment.
type Intent struct {
	Ref          string
	ClientSecret string
	Status       IntentStatus
	AmountMinor  int64
	Currency     string
	Metadata     map[string]string
}

// Event is a verified provider notification about an intent.
type Event struct {
	ID     string
	Type   EventType
	Intent Intent
}

// Provider is the payment gateway seen by the payment service.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, ref string) (*Intent, error)
	// ParseEvent verifies the signature header and decodes the payload.
	ParseEvent(payload []byte, signature string) (*Event, error)
	PublishableKey() string
	TestMode() bool
}
