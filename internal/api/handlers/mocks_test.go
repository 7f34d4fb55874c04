package handlers_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/payments"
	"github.com/LaxRaj/the-garage/internal/services"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// --- Mocks ---

type MockAssetService struct {
	mock.Mock
}

func (m *MockAssetService) assets(args mock.Arguments) ([]models.Asset, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Asset), args.Error(1)
}

func (m *MockAssetService) asset(args mock.Arguments) (*models.Asset, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Asset), args.Error(1)
}

func (m *MockAssetService) ListMarketplace(ctx context.Context) ([]models.Asset, error) {
	return m.assets(m.Called(ctx))
}

func (m *MockAssetService) FeaturedAsset(ctx context.Context) (*models.Asset, error) {
	return m.asset(m.Called(ctx))
}

func (m *MockAssetService) GetAsset(ctx context.Context, assetID utils.SixID) (*models.Asset, error) {
	return m.asset(m.Called(ctx, assetID))
}

func (m *MockAssetService) ToggleListing(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error) {
	return m.asset(m.Called(ctx, assetID, identity))
}

func (m *MockAssetService) ListGarage(ctx context.Context, identity models.Identity) ([]models.Asset, error) {
	return m.assets(m.Called(ctx, identity))
}

func (m *MockAssetService) ListHouseInventory(ctx context.Context, identity models.Identity) ([]models.Asset, error) {
	return m.assets(m.Called(ctx, identity))
}

func (m *MockAssetService) RequestImageUpload(ctx context.Context, assetID utils.SixID, identity models.Identity, filename, contentType string) (*services.ImageUpload, error) {
	args := m.Called(ctx, assetID, identity, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ImageUpload), args.Error(1)
}

func (m *MockAssetService) SetImage(ctx context.Context, assetID utils.SixID, image string) error {
	return m.Called(ctx, assetID, image).Error(0)
}

func (m *MockAssetService) SeedAssets(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockOfferService struct {
	mock.Mock
}

func (m *MockOfferService) SubmitOffer(ctx context.Context, assetID utils.SixID, identity models.Identity, amount float64, alias, message string) (*models.Offer, error) {
	args := m.Called(ctx, assetID, identity, amount, alias, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Offer), args.Error(1)
}

func (m *MockOfferService) AcceptOffer(ctx context.Context, assetID, offerID utils.SixID, identity models.Identity) (*models.Asset, error) {
	args := m.Called(ctx, assetID, offerID, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Asset), args.Error(1)
}

func (m *MockOfferService) DeclineOffer(ctx context.Context, assetID, offerID utils.SixID, identity models.Identity) (*models.Asset, error) {
	args := m.Called(ctx, assetID, offerID, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Asset), args.Error(1)
}

func (m *MockOfferService) ListMyOffers(ctx context.Context, identity models.Identity) ([]models.MyOffer, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MyOffer), args.Error(1)
}

func (m *MockOfferService) ListAssetOffers(ctx context.Context, assetID utils.SixID, identity models.Identity) ([]models.Offer, error) {
	args := m.Called(ctx, assetID, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Offer), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CreatePaymentSession(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.PaymentSessionResult, error) {
	args := m.Called(ctx, assetID, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentSessionResult), args.Error(1)
}

func (m *MockPaymentService) ConfirmPayment(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error) {
	args := m.Called(ctx, assetID, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Asset), args.Error(1)
}

func (m *MockPaymentService) FinalizeSale(ctx context.Context, assetID utils.SixID, identity models.Identity) (*models.Asset, error) {
	args := m.Called(ctx, assetID, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Asset), args.Error(1)
}

func (m *MockPaymentService) HandleProviderEvent(ctx context.Context, event *payments.Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockPaymentService) ReleaseReservation(ctx context.Context, assetID, offerID utils.SixID) (bool, error) {
	args := m.Called(ctx, assetID, offerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPaymentService) PaymentConfig() (*services.PaymentConfig, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentConfig), args.Error(1)
}

// MockProvider only implements webhook parsing; the handler never opens intents.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) CreateIntent(ctx context.Context, params payments.CreateIntentParams) (*payments.Intent, error) {
	return nil, payments.ErrNotConfigured
}

func (m *MockProvider) GetIntent(ctx context.Context, ref string) (*payments.Intent, error) {
	return nil, payments.ErrNotConfigured
}

func (m *MockProvider) ParseEvent(payload []byte, signature string) (*payments.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Event), args.Error(1)
}

func (m *MockProvider) PublishableKey() string { return "pk_test_mock" }

func (m *MockProvider) TestMode() bool { return true }

type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGuard) Delete(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}
