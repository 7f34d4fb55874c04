package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/payments"
	"github.com/LaxRaj/the-garage/internal/services"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// Enqueuer is the part of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher turns workflow events into background tasks. It implements
// services.Notifier and services.Scheduler.
type Dispatcher struct {
	client Enqueuer
}

var (
	_ services.Notifier  = (*Dispatcher)(nil)
	_ services.Scheduler = (*Dispatcher)(nil)
)

func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

func (d *Dispatcher) OfferSubmitted(ctx context.Context, asset *models.Asset, offer models.Offer) {
	d.notify(ctx, offer.UserID, services.TemplateOfferReceived, offerData(asset, offer))
}

func (d *Dispatcher) OfferAccepted(ctx context.Context, asset *models.Asset, accepted models.Offer, rejected []models.Offer) {
	d.notify(ctx, accepted.UserID, services.TemplateOfferAccepted, offerData(asset, accepted))
	for _, offer := range rejected {
		d.notify(ctx, offer.UserID, services.TemplateOfferRejected, offerData(asset, offer))
	}
}

func (d *Dispatcher) OfferDeclined(ctx context.Context, asset *models.Asset, offer models.Offer) {
	d.notify(ctx, offer.UserID, services.TemplateOfferRejected, offerData(asset, offer))
}

func (d *Dispatcher) SaleCompleted(ctx context.Context, asset *models.Asset, buyerID utils.SixID) {
	data := map[string]string{
		"asset":    assetTitle(asset),
		"asset_id": asset.ID.String(),
	}
	if offer := asset.AcceptedOffer(); offer != nil {
		data["amount"] = formatAmount(offer.Amount, asset.CurrencyCode)
	}
	d.notify(ctx, buyerID, services.TemplateSaleCompleted, data)
}

// notify enqueues an email; failures are logged and swallowed.
func (d *Dispatcher) notify(ctx context.Context, userID utils.SixID, templateID string, data map[string]string) {
	payload, err := json.Marshal(EmailTaskPayload{
		UserID:     userID.String(),
		TemplateID: templateID,
		Data:       data,
	})
	if err == nil {
		_, err = d.client.EnqueueContext(ctx, asynq.NewTask(TypeEmailDelivery, payload), asynq.Queue(QueueDefault))
	}
	if err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("template_id", templateID).
			Str("user_id", userID.String()).
			Msg("failed to enqueue notification")
	}
}

// ScheduleReservationRelease enqueues the release check once per
// asset/offer pair.
func (d *Dispatcher) ScheduleReservationRelease(ctx context.Context, assetID, offerID utils.SixID, after time.Duration) error {
	payload, err := json.Marshal(ReservationReleasePayload{
		AssetID: assetID.String(),
		OfferID: offerID.String(),
	})
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx,
		asynq.NewTask(TypeReservationRelease, payload),
		asynq.Queue(QueueCritical),
		asynq.ProcessIn(after),
		asynq.TaskID(fmt.Sprintf("release:%s:%s", assetID, offerID)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (d *Dispatcher) ScheduleImageProcess(ctx context.Context, assetID utils.SixID, objectKey string) error {
	payload, err := json.Marshal(ImageTaskPayload{
		S3Key:   objectKey,
		AssetID: assetID.String(),
	})
	if err != nil {
		return err
	}
	// Retries cover uploads that land after the first attempt.
	_, err = d.client.EnqueueContext(ctx,
		asynq.NewTask(TypeImageProcess, payload),
		asynq.Queue(QueueImages),
		asynq.ProcessIn(time.Minute),
		asynq.MaxRetry(5),
	)
	return err
}

func offerData(asset *models.Asset, offer models.Offer) map[string]string {
	return map[string]string{
		"name":     offer.Alias,
		"asset":    assetTitle(asset),
		"asset_id": asset.ID.String(),
		"amount":   formatAmount(offer.Amount, asset.CurrencyCode),
	}
}

func assetTitle(asset *models.Asset) string {
	return strings.TrimSpace(fmt.Sprintf("%d %s %s", asset.Year, asset.Make, asset.Model))
}

func formatAmount(amount float64, currency string) string {
	places := payments.MinorUnitExponent(currency)
	value := decimal.NewFromFloat(amount).StringFixed(places)
	if currency == "" {
		return value
	}
	return value + " " + strings.ToUpper(currency)
}
