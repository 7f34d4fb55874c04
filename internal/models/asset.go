package models

import (
	"time"

	"github.com/LaxRaj/the-garage/internal/utils"
)

// AssetStatus is the lifecycle state of a car.
type AssetStatus string

const (
	AssetAvailable AssetStatus = "AVAILABLE"
	AssetReserved  AssetStatus = "RESERVED"
	AssetSold      AssetStatus = "SOLD"
	// AssetLiveAuction only appears in legacy documents. It is never AVAILABLE.
	AssetLiveAuction AssetStatus = "LIVE_AUCTION"
)

// OfferStatus is the state of a single offer.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Offer is a buyer's bid, embedded in its asset.
type Offer struct {
	ID        utils.SixID `bson:"_id" json:"id"`
	UserID    utils.SixID `bson:"user_id" json:"user_id"`
	Alias     string      `bson:"alias" json:"alias"`
	Amount    float64     `bson:"amount" json:"amount"`
	Status    OfferStatus `bson:"status" json:"status"`
	Message   string      `bson:"message,omitempty" json:"message,omitempty"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}

// Asset is a car in the catalogue, with its offers embedded so that
// every offer transition is a single-document update.
type Asset struct {
	Base         `bson:",inline"`
	Make         string            `bson:"make" json:"make"`
	Model        string            `bson:"model" json:"model"`
	Year         int               `bson:"year" json:"year"`
	Description  string            `bson:"description,omitempty" json:"description,omitempty"`
	Image        string            `bson:"image,omitempty" json:"image,omitempty"`
	ModelPath    string            `bson:"model_path,omitempty" json:"model_path,omitempty"`
	AskingPrice  float64           `bson:"asking_price" json:"asking_price"`
	MinPrice     float64           `bson:"min_price" json:"min_price"`
	CurrencyCode string            `bson:"currency_code" json:"currency_code"`
	Status       AssetStatus       `bson:"status" json:"status"`
	Offers       []Offer           `bson:"offers" json:"offers"`
	IsListed     bool              `bson:"is_listed" json:"is_listed"`
	Owner        *utils.SixID      `bson:"owner" json:"owner"`
	Specs        map[string]string `bson:"specs,omitempty" json:"specs,omitempty"`
	CreatedAt    time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at" json:"updated_at"`
}

// FindOffer returns the offer with the given id, or nil.
func (a *Asset) FindOffer(id utils.SixID) *Offer {
	for i := range a.Offers {
		if a.Offers[i].ID == id {
			return &a.Offers[i]
		}
	}
	return nil
}

// AcceptedOffer returns the accepted offer, or nil.
func (a *Asset) AcceptedOffer() *Offer {
	for i := range a.Offers {
		if a.Offers[i].Status == OfferAccepted {
			return &a.Offers[i]
		}
	}
	return nil
}

// IsOwnedBy reports whether userID owns the asset.
func (a *Asset) IsOwnedBy(userID utils.SixID) bool {
	return a.Owner != nil && *a.Owner == userID
}

// PublicAsset is the buyer-facing projection of an Asset. It never carries
// the seller floor or other buyers' offers.
type PublicAsset struct {
	ID           utils.SixID       `json:"id"`
	Make         string            `json:"make"`
	Model        string            `json:"model"`
	Year         int               `json:"year"`
	Description  string            `json:"description,omitempty"`
	Image        string            `json:"image,omitempty"`
	ModelPath    string            `json:"model_path,omitempty"`
	AskingPrice  float64           `json:"asking_price"`
	CurrencyCode string            `json:"currency_code"`
	Status       AssetStatus       `json:"status"`
	IsListed     bool              `json:"is_listed"`
	Specs        map[string]string `json:"specs,omitempty"`
	OfferCount   int               `json:"offer_count"`
}

// Public returns the buyer-facing view.
func (a *Asset) Public() PublicAsset {
	return PublicAsset{
		ID:           a.ID,
		Make:         a.Make,
		Model:        a.Model,
		Year:         a.Year,
		Description:  a.Description,
		Image:        a.Image,
		ModelPath:    a.ModelPath,
		AskingPrice:  a.AskingPrice,
		CurrencyCode: a.CurrencyCode,
		Status:       a.Status,
		IsListed:     a.IsListed,
		Specs:        a.Specs,
		OfferCount:   len(a.Offers),
	}
}

// PublicAssets maps Public over a slice.
func PublicAssets(assets []Asset) []PublicAsset {
	out := make([]PublicAsset, 0, len(assets))
	for i := range assets {
		out = append(out, assets[i].Public())
	}
	return out
}

// PurchaseView is the buyer's view after checkout: the public asset and
// the buyer's own accepted offer. Other bidders' offers are never included.
type PurchaseView struct {
	PublicAsset
	Offer *Offer `json:"offer,omitempty"`
}

// PurchaseViewFor builds the PurchaseView for userID.
func (a *Asset) PurchaseViewFor(userID utils.SixID) PurchaseView {
	view := PurchaseView{PublicAsset: a.Public()}
	if accepted := a.AcceptedOffer(); accepted != nil && accepted.UserID == userID {
		offer := *accepted
		view.Offer = &offer
	}
	return view
}

// AssetSummary is the short form of an asset used in offer listings.
type AssetSummary struct {
	ID          utils.SixID `bson:"_id" json:"id"`
	Make        string      `bson:"make" json:"make"`
	Model       string      `bson:"model" json:"model"`
	Year        int         `bson:"year" json:"year"`
	Image       string      `bson:"image,omitempty" json:"image,omitempty"`
	AskingPrice float64     `bson:"asking_price" json:"asking_price"`
	Status      AssetStatus `bson:"status" json:"status"`
}

// MyOffer pairs one of the caller's offers with the asset it was made on.
type MyOffer struct {
	Asset AssetSummary `bson:"asset" json:"asset"`
	Offer Offer        `bson:"offer" json:"offer"`
}
