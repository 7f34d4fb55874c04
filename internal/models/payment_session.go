package models

import (
	"time"

	"github.com/LaxRaj/the-garage/internal/utils"
)

type PaymentSessionStatus string

const (
	PaymentSessionOpen      PaymentSessionStatus = "open"
	PaymentSessionSucceeded PaymentSessionStatus = "succeeded"
	PaymentSessionFailed    PaymentSessionStatus = "failed"
)

// PaymentSession records one checkout attempt against the payment provider.
// The client secret is handed to the buyer and never stored.
type PaymentSession struct {
	Base        `bson:",inline"`
	AssetID     utils.SixID          `bson:"asset_id" json:"asset_id"`
	OfferID     utils.SixID          `bson:"offer_id" json:"offer_id"`
	UserID      utils.SixID          `bson:"user_id" json:"user_id"`
	Provider    string               `bson:"provider" json:"provider"`
	ProviderRef string               `bson:"provider_ref,omitempty" json:"provider_ref,omitempty"`
	AmountMinor int64                `bson:"amount_minor" json:"amount_minor"`
	Currency    string               `bson:"currency" json:"currency"`
	Status      PaymentSessionStatus `bson:"status" json:"status"`
	CreatedAt   time.Time            `bson:"created_at" json:"created_at"`
	ConfirmedAt *time.Time           `bson:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`
}

// PaymentSessionResult is returned to the buyer when a session is opened.
type PaymentSessionResult struct {
	SessionID    utils.SixID `json:"session_id"`
	ClientSecret string      `json:"client_secret"`
	AmountMinor  int64       `json:"amount_minor"`
	Currency     string      `json:"currency"`
}
