package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/db"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/metrics"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/payments"
	"github.com/LaxRaj/the-garage/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Finalization paths, used as the metrics label.
const (
	FinalizeViaConfirmation = "confirmation"
	FinalizeViaWebhook      = "webhook"
	FinalizeDirect          = "direct"
)

// PaymentConfig is the client-side payment setup.
type PaymentConfig struct {
	PublishableKey string `json:"publishable_key"`
	TestMode       bool   `json:"test_mode"`
	Currency       string `json:"currency"`
}

// IPaymentService bridges an accepted offer to the payment provider and
// finalizes the sale once the provider confirms funds.
type IPaymentService interface {
	CreatePaymentSession(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.PaymentSessionResult, error)
	ConfirmPayment(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error)
	FinalizeSale(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error)
	HandleProviderEvent(ctx context.Context, event *payments.Event) error
	ReleaseReservation(ctx context.Context, assetID, offerID utils.SixID) (bool, error)
	PaymentConfig() (*PaymentConfig, error)
}

type paymentService struct {
	db       *mongo.Database
	cfg      *config.Config
	provider payments.Provider
	notifier Notifier
}

// NewPaymentService creates a new PaymentService. provider may be nil, in
// which case payment operations fail with UNAVAILABLE.
func NewPaymentService(db *mongo.Database, cfg *config.Config, provider payments.Provider, notifier Notifier) IPaymentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &paymentService{db: db, cfg: cfg, provider: provider, notifier: notifier}
}

func (s *paymentService) assets() *mongo.Collection {
	return s.db.Collection(db.AssetsCollection)
}

func (s *paymentService) sessions() *mongo.Collection {
	return s.db.Collection(db.PaymentSessionsCollection)
}

func (s *paymentService) bounds() payments.Bounds {
	return payments.Bounds{MinMinor: s.cfg.PaymentMinMinor, MaxMinor: s.cfg.PaymentMaxMinor}
}

func errPaymentsUnavailable() error {
	return apperrors.New(apperrors.CodeUnavailable, "payments are not configured")
}

// acceptedOfferFor checks that identity holds the accepted offer on a
// RESERVED asset and returns that offer.
func acceptedOfferFor(asset *models.Asset, buyerID utils.SixID) (*models.Offer, error) {
	accepted := asset.AcceptedOffer()
	if accepted != nil && accepted.UserID != buyerID {
		return nil, apperrors.Forbidden("only the holder of the accepted offer can pay for this asset")
	}
	if asset.Status != models.AssetReserved {
		return nil, apperrors.Newf(apperrors.CodeInvalidState, "asset is %s, not RESERVED", asset.Status)
	}
	if accepted == nil {
		return nil, apperrors.InvalidState("asset has no accepted offer")
	}
	return accepted, nil
}

// CreatePaymentSession opens a provider session for the accepted offer's
// amount. The asking price is never used.
func (s *paymentService) CreatePaymentSession(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.PaymentSessionResult, error) {
	result, err := s.createPaymentSession(ctx, assetID, identity)
	if err != nil {
		metrics.PaymentSessionsTotal.WithLabelValues(strings.ToLower(string(apperrors.CodeOf(err)))).Inc()
		return nil, err
	}
	metrics.PaymentSessionsTotal.WithLabelValues("created").Inc()
	return result, nil
}

func (s *paymentService) createPaymentSession(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.PaymentSessionResult, error) {
	asset, err := findAssetByID(ctx, s.assets(), assetID)
	if err != nil {
		return nil, err
	}
	offer, err := acceptedOfferFor(asset, identity.UserID)
	if err != nil {
		return nil, err
	}

	currency := strings.ToLower(asset.CurrencyCode)
	if currency == "" {
		currency = s.cfg.PaymentCurrency
	}
	amountMinor, err := payments.ToMinorUnits(offer.Amount, currency)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidAmount, err, "offer amount cannot be charged")
	}
	if b := s.bounds(); !b.Contains(amountMinor) {
		return nil, apperrors.New(apperrors.CodeInvalidAmount, "amount outside the range accepted for card payment").
			WithDetails(map[string]any{
				"amount_minor": amountMinor,
				"min_minor":    b.MinMinor,
				"max_minor":    b.MaxMinor,
				"amount":       payments.FromMinorUnits(amountMinor, currency).StringFixed(payments.MinorUnitExponent(currency)),
				"max_amount":   payments.FromMinorUnits(b.MaxMinor, currency).StringFixed(payments.MinorUnitExponent(currency)),
				"currency":     currency,
			})
	}
	if s.provider == nil {
		return nil, errPaymentsUnavailable()
	}

	if reused, err := s.reuseOpenSession(ctx, asset.ID, offer.ID, identity.UserID, amountMinor, currency); err != nil {
		return nil, err
	} else if reused != nil {
		return reused, nil
	}

	session := &models.PaymentSession{
		AssetID:     asset.ID,
		OfferID:     offer.ID,
		UserID:      identity.UserID,
		Provider:    s.provider.Name(),
		AmountMinor: amountMinor,
		Currency:    currency,
		Status:      models.PaymentSessionOpen,
	}
	err = db.Try(func() error {
		session.GenID()
		session.CreatedAt = now()
		_, insertErr := s.sessions().InsertOne(ctx, session)
		return insertErr
	})
	if err != nil {
		return nil, apperrors.Internal(err, "failed to record payment session")
	}

	intent, err := s.provider.CreateIntent(ctx, payments.CreateIntentParams{
		AmountMinor:    amountMinor,
		Currency:       currency,
		Description:    fmt.Sprintf("%d %s %s", asset.Year, asset.Make, asset.Model),
		IdempotencyKey: "payment-session-" + session.ID.String(),
		Metadata: map[string]string{
			payments.MetaAssetID:   asset.ID.String(),
			payments.MetaOfferID:   offer.ID.String(),
			payments.MetaUserID:    identity.UserID.String(),
			payments.MetaSessionID: session.ID.String(),
		},
	})
	if err != nil {
		s.setSessionStatus(ctx, session.ID, models.PaymentSessionOpen, models.PaymentSessionFailed)
		logger.Ctx(ctx).Error().Err(err).Str("asset_id", asset.ID.String()).Msg("payment provider rejected session")
		return nil, apperrors.Wrap(apperrors.CodeProvider, err, "payment provider error")
	}

	_, err = s.sessions().UpdateOne(ctx,
		bson.M{"_id": session.ID},
		bson.M{"$set": bson.M{"provider_ref": intent.Ref}},
	)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to record payment reference")
	}

	logger.Ctx(ctx).Info().
		Str("asset_id", asset.ID.String()).
		Str("session_id", session.ID.String()).
		Int64("amount_minor", amountMinor).
		Msg("payment session created")

	return &models.PaymentSessionResult{
		SessionID:    session.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  amountMinor,
		Currency:     currency,
	}, nil
}

// reuseOpenSession returns the buyer's still-usable open session for the same
// offer and amount, so repeated checkout clicks do not open new intents.
func (s *paymentService) reuseOpenSession(ctx context.Context, assetID, offerID, userID utils.SixID, amountMinor int64, currency string) (*models.PaymentSessionResult, error) {
	filter := bson.M{
		"asset_id":     assetID,
		"offer_id":     offerID,
		"user_id":      userID,
		"status":       models.PaymentSessionOpen,
		"amount_minor": amountMinor,
		"currency":     currency,
		"provider_ref": bson.M{"$exists": true},
	}
	var existing models.PaymentSession
	err := s.sessions().FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).Decode(&existing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.Internal(err, "failed to look up payment sessions")
	}

	intent, err := s.provider.GetIntent(ctx, existing.ProviderRef)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProvider, err, "payment provider error")
	}
	if intent.Status == payments.IntentCanceled || intent.Status == payments.IntentSucceeded || intent.ClientSecret == "" {
		return nil, nil
	}
	return &models.PaymentSessionResult{
		SessionID:    existing.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  existing.AmountMinor,
		Currency:     existing.Currency,
	}, nil
}

// ConfirmPayment asks the provider for the status of the buyer's latest
// session and finalizes the sale only when the provider reports success.
func (s *paymentService) ConfirmPayment(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error) {
	if s.provider == nil {
		return nil, errPaymentsUnavailable()
	}

	var session models.PaymentSession
	err := s.sessions().FindOne(ctx,
		bson.M{"asset_id": assetID, "user_id": identity.UserID, "provider_ref": bson.M{"$exists": true}},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.diagnoseMissingSession(ctx, assetID, identity.UserID)
		}
		return nil, apperrors.Internal(err, "failed to load payment session")
	}

	if session.Status != models.PaymentSessionSucceeded {
		intent, err := s.provider.GetIntent(ctx, session.ProviderRef)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeProvider, err, "payment provider error")
		}
		if intent.Status != payments.IntentSucceeded {
			msg := "payment has not succeeded"
			if intent.Status == payments.IntentProcessing {
				msg = "payment is still processing, try again shortly"
			}
			return nil, apperrors.New(apperrors.CodeInvalidState, msg).
				WithDetails(map[string]any{"payment_status": string(intent.Status)})
		}
		s.setSessionStatus(ctx, session.ID, "", models.PaymentSessionSucceeded)
	}

	return s.finalize(ctx, assetID, identity.UserID, &session.OfferID, FinalizeViaConfirmation)
}

// diagnoseMissingSession explains why requester has no session to confirm.
// Anyone but the accepted bidder or owner is Forbidden.
func (s *paymentService) diagnoseMissingSession(ctx context.Context, assetID, requester utils.SixID) error {
	asset, err := findAssetByID(ctx, s.assets(), assetID)
	if err != nil {
		return err
	}
	if accepted := asset.AcceptedOffer(); accepted != nil && accepted.UserID != requester {
		return apperrors.Forbidden("only the holder of the accepted offer can complete this sale")
	}
	if asset.Status == models.AssetSold && !asset.IsOwnedBy(requester) {
		return apperrors.Forbidden("asset has already been sold to another buyer")
	}
	return apperrors.InvalidState("no payment session for this asset")
}

// FinalizeSale moves a RESERVED asset to SOLD for the holder of its accepted
// offer. Repeating it for the same buyer is a no-op success.
//
// It does not check with the payment provider. Never route it to a client
// endpoint; buyers finalize through ConfirmPayment or the provider webhook.
func (s *paymentService) FinalizeSale(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error) {
	return s.finalize(ctx, assetID, identity.UserID, nil, FinalizeDirect)
}

func (s *paymentService) finalize(ctx context.Context, assetID, buyerID utils.SixID, offerID *utils.SixID, path string) (*models.Asset, error) {
	accepted := bson.M{"user_id": buyerID, "status": models.OfferAccepted}
	if offerID != nil {
		accepted["_id"] = *offerID
	}
	ts := now()
	filter := bson.M{
		"_id":    assetID,
		"status": models.AssetReserved,
		"offers": bson.M{"$elemMatch": accepted},
	}
	update := bson.M{"$set": bson.M{
		"status":                    models.AssetSold,
		"owner":                     buyerID,
		"updated_at":                ts,
		"offers.$[open].status":     models.OfferRejected,
		"offers.$[open].updated_at": ts,
	}}
	opts := options.FindOneAndUpdate().
		SetArrayFilters(options.ArrayFilters{Filters: []interface{}{
			bson.M{"open.status": models.OfferPending},
		}}).
		SetReturnDocument(options.After)

	var asset models.Asset
	err := s.assets().FindOneAndUpdate(ctx, filter, update, opts).Decode(&asset)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.Internal(err, "failed to finalize sale")
		}
		return s.diagnoseFinalize(ctx, assetID, buyerID, offerID)
	}

	metrics.SalesFinalizedTotal.WithLabelValues(path).Inc()
	logger.Ctx(ctx).Info().
		Str("asset_id", assetID.String()).
		Str("buyer_id", buyerID.String()).
		Str("path", path).
		Msg("sale finalized")
	s.notifier.SaleCompleted(ctx, &asset, buyerID)
	return &asset, nil
}

// diagnoseFinalize explains a finalize miss, treating a repeat by the same
// buyer as success.
func (s *paymentService) diagnoseFinalize(ctx context.Context, assetID, buyerID utils.SixID, offerID *utils.SixID) (*models.Asset, error) {
	asset, err := findAssetByID(ctx, s.assets(), assetID)
	if err != nil {
		return nil, err
	}
	accepted := asset.AcceptedOffer()
	if accepted != nil && accepted.UserID != buyerID {
		return nil, apperrors.Forbidden("only the holder of the accepted offer can complete this sale")
	}
	if accepted != nil && offerID != nil && accepted.ID != *offerID {
		return nil, apperrors.InvalidState("payment was made for a different offer")
	}
	if asset.Status == models.AssetSold && accepted != nil && asset.IsOwnedBy(buyerID) {
		return asset, nil
	}
	if accepted == nil {
		return nil, apperrors.InvalidState("asset has no accepted offer")
	}
	return nil, apperrors.Newf(apperrors.CodeInvalidState, "asset is %s, not RESERVED", asset.Status)
}

// HandleProviderEvent applies a verified provider webhook event.
func (s *paymentService) HandleProviderEvent(ctx context.Context, event *payments.Event) error {
	if event == nil {
		return apperrors.InvalidInput("event is required")
	}

	switch event.Type {
	case payments.EventPaymentSucceeded:
		session, err := s.sessionForIntent(ctx, event.Intent)
		if err != nil || session == nil {
			return err
		}
		s.setSessionStatus(ctx, session.ID, "", models.PaymentSessionSucceeded)
		_, err = s.finalize(ctx, session.AssetID, session.UserID, &session.OfferID, FinalizeViaWebhook)
		if err != nil {
			if code := apperrors.CodeOf(err); code == apperrors.CodeInternal {
				return err
			}
			// Funds were captured but the sale cannot complete; needs manual follow-up.
			logger.Ctx(ctx).Error().Err(err).
				Str("session_id", session.ID.String()).
				Str("asset_id", session.AssetID.String()).
				Msg("payment succeeded but sale could not be finalized")
			metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "unfulfillable").Inc()
			return nil
		}
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "finalized").Inc()
		return nil

	case payments.EventPaymentFailed:
		session, err := s.sessionForIntent(ctx, event.Intent)
		if err != nil || session == nil {
			return err
		}
		s.setSessionStatus(ctx, session.ID, models.PaymentSessionOpen, models.PaymentSessionFailed)
		logger.Ctx(ctx).Warn().
			Str("session_id", session.ID.String()).
			Str("asset_id", session.AssetID.String()).
			Msg("payment failed, asset stays reserved")
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "recorded").Inc()
		return nil

	default:
		metrics.WebhookEventsTotal.WithLabelValues("other", "ignored").Inc()
		return nil
	}
}

// sessionForIntent finds the session an intent belongs to. Unknown intents
// return (nil, nil) so the delivery is acknowledged.
func (s *paymentService) sessionForIntent(ctx context.Context, intent payments.Intent) (*models.PaymentSession, error) {
	filter := bson.M{"provider_ref": intent.Ref}
	if raw := intent.Metadata[payments.MetaSessionID]; raw != "" {
		if id, err := utils.ParseSixID(raw); err == nil {
			filter = bson.M{"$or": bson.A{bson.M{"provider_ref": intent.Ref}, bson.M{"_id": id}}}
		}
	}
	var session models.PaymentSession
	err := s.sessions().FindOne(ctx, filter).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			logger.Ctx(ctx).Warn().Str("provider_ref", intent.Ref).Msg("webhook for unknown payment intent")
			return nil, nil
		}
		return nil, apperrors.Internal(err, "failed to load payment session")
	}
	return &session, nil
}

// setSessionStatus moves a session to status. When from is set the update
// only applies from that status. Failures are logged, not returned.
func (s *paymentService) setSessionStatus(ctx context.Context, id utils.SixID, from, to models.PaymentSessionStatus) {
	filter := bson.M{"_id": id}
	if from != "" {
		filter["status"] = from
	}
	set := bson.M{"status": to}
	if to == models.PaymentSessionSucceeded {
		set["confirmed_at"] = now()
	}
	if _, err := s.sessions().UpdateOne(ctx, filter, bson.M{"$set": set}); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("session_id", id.String()).Msg("failed to update payment session")
	}
}

// ReleaseReservation returns a RESERVED asset to AVAILABLE when the given
// accepted offer has not been paid for. It reports whether it released.
func (s *paymentService) ReleaseReservation(ctx context.Context, assetID, offerID utils.SixID) (bool, error) {
	paid, err := s.sessions().CountDocuments(ctx, bson.M{
		"asset_id": assetID,
		"offer_id": offerID,
		"status":   models.PaymentSessionSucceeded,
	})
	if err != nil {
		return false, apperrors.Internal(err, "failed to check payment sessions")
	}
	if paid > 0 {
		return false, nil
	}

	ts := now()
	res, err := s.assets().UpdateOne(ctx,
		bson.M{
			"_id":    assetID,
			"status": models.AssetReserved,
			"offers": bson.M{"$elemMatch": bson.M{"_id": offerID, "status": models.OfferAccepted}},
		},
		bson.M{"$set": bson.M{
			"status":              models.AssetAvailable,
			"offers.$.status":     models.OfferRejected,
			"offers.$.updated_at": ts,
			"updated_at":          ts,
		}},
	)
	if err != nil {
		return false, apperrors.Internal(err, "failed to release reservation")
	}
	if res.ModifiedCount == 0 {
		return false, nil
	}

	metrics.ReservationsReleasedTotal.Inc()
	logger.Ctx(ctx).Info().
		Str("asset_id", assetID.String()).
		Str("offer_id", offerID.String()).
		Msg("reservation released")
	return true, nil
}

// PaymentConfig returns the publishable key for client-side checkout.
func (s *paymentService) PaymentConfig() (*PaymentConfig, error) {
	if s.provider == nil || s.provider.PublishableKey() == "" {
		return nil, errPaymentsUnavailable()
	}
	return &PaymentConfig{
		PublishableKey: s.provider.PublishableKey(),
		TestMode:       s.provider.TestMode(),
		Currency:       s.cfg.PaymentCurrency,
	}, nil
}
