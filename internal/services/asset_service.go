package services

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/db"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/storage"
	"github.com/LaxRaj/the-garage/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IAssetService defines catalogue reads and contractor-side asset management.
type IAssetService interface {
	ListMarketplace(ctx context.Context) ([]models.Asset, error)
	FeaturedAsset(ctx context.Context) (*models.Asset, error)
	GetAsset(ctx context.Context, assetID utils.SixID) (*models.Asset, error)
	ToggleListing(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error)
	ListGarage(ctx context.Context, identity models.Identity) ([]models.Asset, error)
	ListHouseInventory(ctx context.Context, identity models.Identity) ([]models.Asset, error)
	RequestImageUpload(ctx context.Context, assetID utils.SixID, identity models.Identity, filename, contentType string) (*ImageUpload, error)
	SetImage(ctx context.Context, assetID utils.SixID, image string) error
	SeedAssets(ctx context.Context) (int, error)
}

// ImageUpload is a presigned upload target for an asset image.
type ImageUpload struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

type assetService struct {
	db        *mongo.Database
	cfg       *config.Config
	storage   storage.IS3Storage
	scheduler Scheduler
}

// NewAssetService creates a new AssetService. storage and scheduler may be
// nil when media uploads are not configured.
func NewAssetService(db *mongo.Database, cfg *config.Config, storage storage.IS3Storage, scheduler Scheduler) IAssetService {
	return &assetService{db: db, cfg: cfg, storage: storage, scheduler: scheduler}
}

func (s *assetService) assets() *mongo.Collection {
	return s.db.Collection(db.AssetsCollection)
}

func (s *assetService) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.Asset, error) {
	cursor, err := s.assets().Find(ctx, filter, opts...)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to query assets")
	}
	defer cursor.Close(ctx)

	results := []models.Asset{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, apperrors.Internal(err, "failed to decode assets")
	}
	return results, nil
}

// ListMarketplace returns listed assets in catalogue order.
func (s *assetService) ListMarketplace(ctx context.Context) ([]models.Asset, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return s.find(ctx, bson.M{"is_listed": true}, opts)
}

// FeaturedAsset returns the listed asset with the highest asking price.
func (s *assetService) FeaturedAsset(ctx context.Context) (*models.Asset, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "asking_price", Value: -1}, {Key: "_id", Value: 1}})
	var asset models.Asset
	err := s.assets().FindOne(ctx, bson.M{"is_listed": true}, opts).Decode(&asset)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("no listed assets")
		}
		return nil, apperrors.Internal(err, "failed to load featured asset")
	}
	return &asset, nil
}

func (s *assetService) GetAsset(ctx context.Context, assetID utils.SixID) (*models.Asset, error) {
	return findAssetByID(ctx, s.assets(), assetID)
}

// ToggleListing flips is_listed. Listing visibility is independent of status.
func (s *assetService) ToggleListing(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error) {
	if !identity.IsContractor() {
		return nil, apperrors.Forbidden("only a contractor can change listing visibility")
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"is_listed":  bson.M{"$not": bson.A{"$is_listed"}},
			"updated_at": now(),
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var asset models.Asset
	err := s.assets().FindOneAndUpdate(ctx, bson.M{"_id": assetID}, update, opts).Decode(&asset)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("asset not found")
		}
		return nil, apperrors.Internal(err, "failed to toggle listing")
	}
	logger.Ctx(ctx).Info().
		Str("asset_id", assetID.String()).
		Bool("is_listed", asset.IsListed).
		Msg("listing toggled")
	return &asset, nil
}

// ListGarage returns the assets owned by the caller.
func (s *assetService) ListGarage(ctx context.Context, identity models.Identity) ([]models.Asset, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	return s.find(ctx, bson.M{"owner": identity.UserID}, opts)
}

// ListHouseInventory returns unowned assets, listed or not.
func (s *assetService) ListHouseInventory(ctx context.Context, identity models.Identity) ([]models.Asset, error) {
	if !identity.IsContractor() {
		return nil, apperrors.Forbidden("only a contractor can view house inventory")
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return s.find(ctx, bson.M{"owner": nil}, opts)
}

// RequestImageUpload returns a presigned PUT URL and schedules processing
// of the uploaded object.
func (s *assetService) RequestImageUpload(ctx context.Context, assetID utils.SixID, identity models.Identity, filename, contentType string) (*ImageUpload, error) {
	if !identity.IsContractor() {
		return nil, apperrors.Forbidden("only a contractor can upload asset images")
	}
	if s.storage == nil || s.scheduler == nil {
		return nil, apperrors.New(apperrors.CodeUnavailable, "image uploads are not configured")
	}
	filename = path.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == "/" {
		return nil, apperrors.InvalidInput("filename is required")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !allowedImageTypes[contentType] {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unsupported content type %q", contentType)
	}
	if _, err := findAssetByID(ctx, s.assets(), assetID); err != nil {
		return nil, err
	}

	url, key, err := s.storage.GeneratePresignedPutURL(ctx, assetID.String(), filename, contentType)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to presign upload")
	}
	if err := s.scheduler.ScheduleImageProcess(ctx, assetID, key); err != nil {
		return nil, apperrors.Internal(err, "failed to schedule image processing")
	}
	return &ImageUpload{UploadURL: url, ObjectKey: key}, nil
}

// SetImage points the asset at a processed image.
func (s *assetService) SetImage(ctx context.Context, assetID utils.SixID, image string) error {
	res, err := s.assets().UpdateOne(ctx,
		bson.M{"_id": assetID},
		bson.M{"$set": bson.M{"image": image, "updated_at": now()}},
	)
	if err != nil {
		return apperrors.Internal(err, "failed to set asset image")
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("asset not found")
	}
	return nil
}

// SeedAssets inserts the starter catalogue into an empty collection and
// reports how many assets were inserted.
func (s *assetService) SeedAssets(ctx context.Context) (int, error) {
	count, err := s.assets().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, apperrors.Internal(err, "failed to count assets")
	}
	if count > 0 {
		return 0, nil
	}

	inserted := 0
	for _, seed := range seedCatalogue() {
		asset := seed
		if asset.CurrencyCode == "" {
			asset.CurrencyCode = s.cfg.DefaultAssetCurrency
		}
		err := db.Try(func() error {
			ts := now()
			asset.GenID()
			asset.CreatedAt = ts
			asset.UpdatedAt = ts
			_, insertErr := s.assets().InsertOne(ctx, &asset)
			return insertErr
		})
		if err != nil {
			return inserted, apperrors.Internal(err, "failed to insert seed asset")
		}
		inserted++
	}
	logger.Ctx(ctx).Info().Int("count", inserted).Msg("seeded asset catalogue")
	return inserted, nil
}

func seedCatalogue() []models.Asset {
	const modelPath = "/assets/sls300.glb"
	return []models.Asset{
		{
			Make:        "Porsche",
			Model:       "911 GT3 RS",
			Year:        2023,
			Description: "Track-focused naturally aspirated flat-six with active aero.",
			Image:       "/images/porsche-gt3rs.jpg",
			ModelPath:   modelPath,
			AskingPrice: 295000,
			MinPrice:    265000,
			Status:      models.AssetAvailable,
			Offers:      []models.Offer{},
			IsListed:    true,
			Specs:       map[string]string{"engine": "4.0L Flat-6", "hp": "518", "zero_sixty": "3.0s"},
		},
		{
			Make:        "Ferrari",
			Model:       "F40",
			Year:        1989,
			Description: "Twin-turbo V8 icon and the last Ferrari approved by Enzo.",
			Image:       "/images/ferrari-f40.jpg",
			ModelPath:   modelPath,
			AskingPrice: 2450000,
			MinPrice:    2200000,
			Status:      models.AssetAvailable,
			Offers:      []models.Offer{},
			IsListed:    true,
			Specs:       map[string]string{"engine": "2.9L Twin-Turbo V8", "hp": "471", "zero_sixty": "3.8s"},
		},
		{
			Make:        "McLaren",
			Model:       "F1",
			Year:        1995,
			Description: "Central driving position and a gold-lined engine bay.",
			Image:       "/images/mclaren-f1.jpg",
			ModelPath:   modelPath,
			AskingPrice: 20000000,
			MinPrice:    18000000,
			Status:      models.AssetAvailable,
			Offers:      []models.Offer{},
			IsListed:    true,
			Specs:       map[string]string{"engine": "6.1L V12", "hp": "618", "zero_sixty": "3.2s"},
		},
		{
			Make:        "Lamborghini",
			Model:       "Countach",
			Year:        1988,
			Description: "Scissor doors and the wedge that defined a generation.",
			Image:       "/images/lamborghini-countach.jpg",
			ModelPath:   modelPath,
			AskingPrice: 650000,
			MinPrice:    585000,
			Status:      models.AssetAvailable,
			Offers:      []models.Offer{},
			IsListed:    true,
			Specs:       map[string]string{"engine": "5.2L V12", "hp": "449", "zero_sixty": "4.9s"},
		},
	}
}
