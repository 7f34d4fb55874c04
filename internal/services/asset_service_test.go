package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaxRaj/the-garage/internal/db"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/utils"
)

type fakeStorage struct {
	presignErr error
}

func (f *fakeStorage) GeneratePresignedPutURL(_ context.Context, assetID, filename, _ string) (string, string, error) {
	if f.presignErr != nil {
		return "", "", f.presignErr
	}
	key := "assets/" + assetID + "/" + filename
	return "https://bucket.example.com/" + key + "?sig=1", key, nil
}

func (f *fakeStorage) GetObject(context.Context, string) ([]byte, string, error) {
	return nil, "", errors.New("not implemented")
}

func (f *fakeStorage) PutObject(context.Context, string, []byte, string) error { return nil }

func (f *fakeStorage) DeleteObject(context.Context, string) error { return nil }

func TestMarketplaceAndFeatured(t *testing.T) {
	database := setupTestDB(t)
	svc := NewAssetService(database, testConfig(), nil, nil)
	ctx := context.Background()

	_, err := svc.FeaturedAsset(ctx)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	cheap := insertAsset(t, database, func(a *models.Asset) { a.AskingPrice = 100 })
	pricey := insertAsset(t, database, func(a *models.Asset) { a.AskingPrice = 9000000 })
	insertAsset(t, database, func(a *models.Asset) {
		a.AskingPrice = 99000000
		a.IsListed = false
	})

	listed, err := svc.ListMarketplace(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.ElementsMatch(t, []utils.SixID{cheap.ID, pricey.ID}, []utils.SixID{listed[0].ID, listed[1].ID})

	featured, err := svc.FeaturedAsset(ctx)
	require.NoError(t, err)
	assert.Equal(t, pricey.ID, featured.ID)

	got, err := svc.GetAsset(ctx, cheap.ID)
	require.NoError(t, err)
	assert.Equal(t, cheap.Make, got.Make)

	_, err = svc.GetAsset(ctx, utils.NewSixID())
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestToggleListing(t *testing.T) {
	database := setupTestDB(t)
	svc := NewAssetService(database, testConfig(), nil, nil)
	ctx := context.Background()
	asset := insertAsset(t, database, func(a *models.Asset) { a.Status = models.AssetReserved })

	_, err := svc.ToggleListing(ctx, asset.ID, testBuyer)
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))

	hidden, err := svc.ToggleListing(ctx, asset.ID, testContractor)
	require.NoError(t, err)
	assert.False(t, hidden.IsListed)
	assert.Equal(t, models.AssetReserved, hidden.Status)

	listed, err := svc.ListMarketplace(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)

	shown, err := svc.ToggleListing(ctx, asset.ID, testContractor)
	require.NoError(t, err)
	assert.True(t, shown.IsListed)

	_, err = svc.ToggleListing(ctx, utils.NewSixID(), testContractor)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestGarageAndHouseInventory(t *testing.T) {
	database := setupTestDB(t)
	svc := NewAssetService(database, testConfig(), nil, nil)
	ctx := context.Background()

	owner := testBuyer.UserID
	owned := insertAsset(t, database, func(a *models.Asset) {
		a.Status = models.AssetSold
		a.Owner = &owner
	})
	unlisted := insertAsset(t, database, func(a *models.Asset) { a.IsListed = false })
	listed := insertAsset(t, database)

	garage, err := svc.ListGarage(ctx, testBuyer)
	require.NoError(t, err)
	require.Len(t, garage, 1)
	assert.Equal(t, owned.ID, garage[0].ID)

	empty, err := svc.ListGarage(ctx, testOtherBuyer)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	house, err := svc.ListHouseInventory(ctx, testContractor)
	require.NoError(t, err)
	ids := []utils.SixID{}
	for _, a := range house {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []utils.SixID{unlisted.ID, listed.ID}, ids)

	_, err = svc.ListHouseInventory(ctx, testBuyer)
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))
}

func TestRequestImageUpload(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	asset := insertAsset(t, database)
	scheduler := &recordingScheduler{}
	svc := NewAssetService(database, testConfig(), &fakeStorage{}, scheduler)

	upload, err := svc.RequestImageUpload(ctx, asset.ID, testContractor, "../../etc/front.JPG", "Image/JPEG")
	require.NoError(t, err)
	assert.Equal(t, "assets/"+asset.ID.String()+"/front.JPG", upload.ObjectKey)
	assert.Contains(t, upload.UploadURL, upload.ObjectKey)
	assert.Equal(t, []string{upload.ObjectKey}, scheduler.images)

	tests := []struct {
		name     string
		svc      IAssetService
		identity models.Identity
		assetID  utils.SixID
		filename string
		ctype    string
		code     apperrors.Code
	}{
		{"buyer", svc, testBuyer, asset.ID, "a.png", "image/png", apperrors.CodeForbidden},
		{"not configured", NewAssetService(database, testConfig(), nil, nil), testContractor, asset.ID, "a.png", "image/png", apperrors.CodeUnavailable},
		{"blank filename", svc, testContractor, asset.ID, "  ", "image/png", apperrors.CodeInvalidInput},
		{"unsupported type", svc, testContractor, asset.ID, "a.svg", "image/svg+xml", apperrors.CodeInvalidInput},
		{"unknown asset", svc, testContractor, utils.NewSixID(), "a.png", "image/png", apperrors.CodeNotFound},
		{"presign failure", NewAssetService(database, testConfig(), &fakeStorage{presignErr: errors.New("no creds")}, scheduler), testContractor, asset.ID, "a.png", "image/png", apperrors.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.RequestImageUpload(ctx, tt.assetID, tt.identity, tt.filename, tt.ctype)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestSetImage(t *testing.T) {
	database := setupTestDB(t)
	svc := NewAssetService(database, testConfig(), nil, nil)
	ctx := context.Background()
	asset := insertAsset(t, database)

	require.NoError(t, svc.SetImage(ctx, asset.ID, "https://cdn.example.com/a.jpg"))
	got, err := svc.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.jpg", got.Image)

	assert.True(t, apperrors.Is(svc.SetImage(ctx, utils.NewSixID(), "x"), apperrors.CodeNotFound))
}

func TestSeedAssets(t *testing.T) {
	database := setupTestDB(t)
	svc := NewAssetService(database, testConfig(), nil, nil)
	ctx := context.Background()

	inserted, err := svc.SeedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(seedCatalogue()), inserted)

	again, err := svc.SeedAssets(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)

	count, err := database.Collection(db.AssetsCollection).CountDocuments(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(inserted), count)

	featured, err := svc.FeaturedAsset(ctx)
	require.NoError(t, err)
	assert.Equal(t, "McLaren", featured.Make)
	assert.Equal(t, "usd", featured.CurrencyCode)
	assert.Nil(t, featured.Owner)
}
