package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/db"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/metrics"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IOfferService defines the offer workflow on an asset's embedded offers.
type IOfferService interface {
	SubmitOffer(ctx context.Context, assetID utils.SixID, identity models.Identity, amount float64, alias, message string) (*models.Offer, error)
	AcceptOffer(ctx context.Context, assetID, offerID utils.SixID, identity models.Identity) (*models.Asset, error)
	DeclineOffer(ctx context.Context, assetID, offerID utils.SixID, identity models.Identity) (*models.Asset, error)
	ListMyOffers(ctx context.Context, identity models.Identity) ([]models.MyOffer, error)
	ListAssetOffers(ctx context.Context, assetID utils.SixID, identity models.Identity) ([]models.Offer, error)
}

var errOfferIDTaken = errors.New("offer id already used on asset")

type offerService struct {
	db        *mongo.Database
	cfg       *config.Config
	notifier  Notifier
	scheduler Scheduler
}

// NewOfferService creates a new OfferService. scheduler may be nil when
// reservation release is disabled.
func NewOfferService(db *mongo.Database, cfg *config.Config, notifier Notifier, scheduler Scheduler) IOfferService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &offerService{db: db, cfg: cfg, notifier: notifier, scheduler: scheduler}
}

func (s *offerService) assets() *mongo.Collection {
	return s.db.Collection(db.AssetsCollection)
}

// SubmitOffer appends a pending offer to an AVAILABLE asset.
func (s *offerService) SubmitOffer(ctx context.Context, assetID utils.SixID, identity models.Identity, amount float64, alias, message string) (*models.Offer, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, s.fail("submit", apperrors.InvalidInput("amount must be greater than zero"))
	}
	alias = strings.TrimSpace(alias)
	if alias == "" {
		alias = strings.TrimSpace(identity.DisplayName)
	}
	if alias == "" {
		return nil, s.fail("submit", apperrors.InvalidInput("alias must not be empty"))
	}
	message = strings.TrimSpace(message)
	if maxLen := s.cfg.OfferMessageMaxLength; maxLen > 0 && utf8.RuneCountInString(message) > maxLen {
		return nil, s.fail("submit", apperrors.Newf(apperrors.CodeInvalidInput, "message must be at most %d characters", maxLen))
	}

	var offer models.Offer
	op := func() error {
		ts := now()
		offer = models.Offer{
			ID:        utils.NewSixID(),
			UserID:    identity.UserID,
			Alias:     alias,
			Amount:    amount,
			Status:    models.OfferPending,
			Message:   message,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		filter := bson.M{
			"_id":        assetID,
			"status":     models.AssetAvailable,
			"offers._id": bson.M{"$ne": offer.ID},
		}
		update := bson.M{
			"$push": bson.M{"offers": offer},
			"$set":  bson.M{"updated_at": ts},
		}
		res, err := s.assets().UpdateOne(ctx, filter, update)
		if err != nil {
			return apperrors.Internal(err, "failed to append offer")
		}
		if res.MatchedCount == 0 {
			return s.diagnoseSubmit(ctx, assetID, offer.ID)
		}
		return nil
	}
	if err := db.WithRetries(op, db.DefaultMaxRetries, func(err error) bool { return errors.Is(err, errOfferIDTaken) }); err != nil {
		if errors.Is(err, errOfferIDTaken) {
			err = apperrors.Internal(err, "could not allocate an offer id")
		}
		return nil, s.fail("submit", err)
	}

	metrics.OffersSubmittedTotal.Inc()
	logger.Ctx(ctx).Info().
		Str("asset_id", assetID.String()).
		Str("offer_id", offer.ID.String()).
		Float64("amount", amount).
		Msg("offer submitted")

	if asset, err := s.findAsset(ctx, assetID); err == nil {
		s.notifier.OfferSubmitted(ctx, asset, offer)
	}
	return &offer, nil
}

// diagnoseSubmit explains why the conditional $push matched nothing.
func (s *offerService) diagnoseSubmit(ctx context.Context, assetID, offerID utils.SixID) error {
	asset, err := s.findAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if asset.Status != models.AssetAvailable {
		return apperrors.Newf(apperrors.CodeInvalidState, "asset is %s, offers are only accepted while AVAILABLE", asset.Status)
	}
	if asset.FindOffer(offerID) != nil {
		return errOfferIDTaken
	}
	return apperrors.InvalidState("asset changed while submitting the offer")
}

// AcceptOffer accepts a pending offer, rejects every other pending offer and
// reserves the asset in one conditional update.
func (s *offerService) AcceptOffer(ctx context.Context, assetID, offerID utils.SixID, identity models.Identity) (*models.Asset, error) {
	if !identity.IsContractor() {
		return nil, s.fail("accept", apperrors.Forbidden("only a contractor can accept offers"))
	}

	ts := now()
	filter := bson.M{
		"_id":    assetID,
		"status": models.AssetAvailable,
		"offers": bson.M{"$elemMatch": bson.M{
			"_id":    offerID,
			"status": models.OfferPending,
		}},
		"offers.status": bson.M{"$ne": models.OfferAccepted},
	}
	update := bson.M{"$set": bson.M{
		"offers.$[target].status":     models.OfferAccepted,
		"offers.$[target].updated_at": ts,
		"offers.$[other].status":      models.OfferRejected,
		"offers.$[other].updated_at":  ts,
		"status":                      models.AssetReserved,
		"updated_at":                  ts,
	}}
	opts := options.FindOneAndUpdate().
		SetArrayFilters(options.ArrayFilters{Filters: []interface{}{
			bson.M{"target._id": offerID},
			bson.M{"other._id": bson.M{"$ne": offerID}, "other.status": models.OfferPending},
		}}).
		SetReturnDocument(options.After)

	var asset models.Asset
	err := s.assets().FindOneAndUpdate(ctx, filter, update, opts).Decode(&asset)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.fail("accept", s.diagnoseDecision(ctx, assetID, offerID, true))
		}
		return nil, s.fail("accept", apperrors.Internal(err, "failed to accept offer"))
	}

	accepted := asset.FindOffer(offerID)
	var rejected []models.Offer
	for _, o := range asset.Offers {
		if o.ID != offerID && o.Status == models.OfferRejected && o.UpdatedAt.Equal(ts) {
			rejected = append(rejected, o)
		}
	}

	metrics.OfferDecisionsTotal.WithLabelValues(string(models.OfferAccepted)).Inc()
	metrics.OfferDecisionsTotal.WithLabelValues(string(models.OfferRejected)).Add(float64(len(rejected)))
	logger.Ctx(ctx).Info().
		Str("asset_id", assetID.String()).
		Str("offer_id", offerID.String()).
		Int("rejected", len(rejected)).
		Msg("offer accepted, asset reserved")

	if accepted != nil {
		s.notifier.OfferAccepted(ctx, &asset, *accepted, rejected)
	}
	if ttl := s.cfg.ReservationTTL; ttl > 0 && s.scheduler != nil {
		if err := s.scheduler.ScheduleReservationRelease(ctx, assetID, offerID, ttl); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("asset_id", assetID.String()).Msg("failed to schedule reservation release")
		}
	}
	return &asset, nil
}

// DeclineOffer rejects one pending offer. Other offers and the asset status
// are untouched.
func (s *offerService) DeclineOffer(ctx context.Context, assetID, offerID utils.SixID, identity models.Identity) (*models.Asset, error) {
	if !identity.IsContractor() {
		return nil, s.fail("decline", apperrors.Forbidden("only a contractor can decline offers"))
	}

	ts := now()
	filter := bson.M{
		"_id": assetID,
		"offers": bson.M{"$elemMatch": bson.M{
			"_id":    offerID,
			"status": models.OfferPending,
		}},
	}
	update := bson.M{"$set": bson.M{
		"offers.$.status":     models.OfferRejected,
		"offers.$.updated_at": ts,
		"updated_at":          ts,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var asset models.Asset
	err := s.assets().FindOneAndUpdate(ctx, filter, update, opts).Decode(&asset)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.fail("decline", s.diagnoseDecision(ctx, assetID, offerID, false))
		}
		return nil, s.fail("decline", apperrors.Internal(err, "failed to decline offer"))
	}

	metrics.OfferDecisionsTotal.WithLabelValues(string(models.OfferRejected)).Inc()
	logger.Ctx(ctx).Info().
		Str("asset_id", assetID.String()).
		Str("offer_id", offerID.String()).
		Msg("offer declined")

	if declined := asset.FindOffer(offerID); declined != nil {
		s.notifier.OfferDeclined(ctx, &asset, *declined)
	}
	return &asset, nil
}

// diagnoseDecision explains why an accept/decline update matched nothing.
func (s *offerService) diagnoseDecision(ctx context.Context, assetID, offerID utils.SixID, accepting bool) error {
	asset, err := s.findAsset(ctx, assetID)
	if err != nil {
		return err
	}
	offer := asset.FindOffer(offerID)
	if offer == nil {
		return apperrors.NotFound("offer not found")
	}
	if offer.Status != models.OfferPending {
		return apperrors.Newf(apperrors.CodeInvalidState, "offer is already %s", offer.Status)
	}
	if accepting {
		if asset.Status != models.AssetAvailable {
			return apperrors.Newf(apperrors.CodeInvalidState, "asset is %s", asset.Status)
		}
		if asset.AcceptedOffer() != nil {
			return apperrors.InvalidState("asset already has an accepted offer")
		}
	}
	return apperrors.InvalidState("asset changed while deciding the offer")
}

// ListMyOffers returns the caller's offers, newest first, each paired with
// a summary of its asset.
func (s *offerService) ListMyOffers(ctx context.Context, identity models.Identity) ([]models.MyOffer, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"offers.user_id": identity.UserID}}},
		{{Key: "$unwind", Value: "$offers"}},
		{{Key: "$match", Value: bson.M{"offers.user_id": identity.UserID}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "offers.created_at", Value: -1},
			{Key: "offers._id", Value: -1},
		}}},
		{{Key: "$project", Value: bson.M{
			"_id": 0,
			"asset": bson.M{
				"_id":          "$_id",
				"make":         "$make",
				"model":        "$model",
				"year":         "$year",
				"image":        "$image",
				"asking_price": "$asking_price",
				"status":       "$status",
			},
			"offer": "$offers",
		}}},
	}

	cursor, err := s.assets().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to list offers")
	}
	defer cursor.Close(ctx)

	results := []models.MyOffer{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, apperrors.Internal(err, "failed to decode offers")
	}
	return results, nil
}

// ListAssetOffers returns every offer on an asset in submission order.
func (s *offerService) ListAssetOffers(ctx context.Context, assetID utils.SixID, identity models.Identity) ([]models.Offer, error) {
	if !identity.IsContractor() {
		return nil, apperrors.Forbidden("only a contractor can view all offers")
	}
	asset, err := s.findAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Offers == nil {
		return []models.Offer{}, nil
	}
	return asset.Offers, nil
}

func (s *offerService) findAsset(ctx context.Context, assetID utils.SixID) (*models.Asset, error) {
	return findAssetByID(ctx, s.assets(), assetID)
}

// fail records a rejected workflow call and returns err unchanged.
func (s *offerService) fail(operation string, err error) error {
	metrics.OfferFailuresTotal.WithLabelValues(operation, string(apperrors.CodeOf(err))).Inc()
	return err
}

// findAssetByID loads one asset, mapping a miss to NotFound.
func findAssetByID(ctx context.Context, coll *mongo.Collection, assetID utils.SixID) (*models.Asset, error) {
	var asset models.Asset
	err := coll.FindOne(ctx, bson.M{"_id": assetID}).Decode(&asset)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("asset not found")
		}
		return nil, apperrors.Internal(err, "failed to load asset")
	}
	return &asset, nil
}
