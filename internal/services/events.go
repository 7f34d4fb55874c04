package services

import (
	"context"
	"time"

	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// Notifier receives workflow events for out-of-band delivery. Implementations
// enqueue work and return; they never fail the calling operation.
type Notifier interface {
	OfferSubmitted(ctx context.Context, asset *models.Asset, offer models.Offer)
	OfferAccepted(ctx context.Context, asset *models.Asset, accepted models.Offer, rejected []models.Offer)
	OfferDeclined(ctx context.Context, asset *models.Asset, offer models.Offer)
	SaleCompleted(ctx context.Context, asset *models.Asset, buyerID utils.SixID)
}

// Scheduler enqueues delayed background work.
type Scheduler interface {
	ScheduleReservationRelease(ctx context.Context, assetID, offerID utils.SixID, after time.Duration) error
	ScheduleImageProcess(ctx context.Context, assetID utils.SixID, objectKey string) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) OfferSubmitted(context.Context, *models.Asset, models.Offer) {}

func (NopNotifier) OfferAccepted(context.Context, *models.Asset, models.Offer, []models.Offer) {}

func (NopNotifier) OfferDeclined(context.Context, *models.Asset, models.Offer) {}

func (NopNotifier) SaleCompleted(context.Context, *models.Asset, utils.SixID) {}

// now returns the current time at the resolution Mongo stores, so values
// written in one update compare equal after a round trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
