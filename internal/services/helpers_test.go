package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/db"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/payments"
	"github.com/LaxRaj/the-garage/internal/utils"
)

const testDbName = "garage_test_services"

func setupTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	database := utils.SetupTestDB(t, testDbName, db.AssetsCollection, db.UsersCollection, db.PaymentSessionsCollection, emailTemplatesCollection)
	require.NoError(t, db.EnsureIndexes(context.Background(), database))
	return database
}

func testConfig() *config.Config {
	return &config.Config{
		PaymentCurrency:       "usd",
		DefaultAssetCurrency:  "usd",
		PaymentMinMinor:       50,
		PaymentMaxMinor:       99999999,
		OfferMessageMaxLength: 200,
	}
}

var (
	testBuyer      = models.Identity{UserID: utils.NewSixID(), DisplayName: "Buyer One", Role: models.RoleUser}
	testOtherBuyer = models.Identity{UserID: utils.NewSixID(), DisplayName: "Buyer Two", Role: models.RoleUser}
	testContractor = models.Identity{UserID: utils.NewSixID(), DisplayName: "House", Role: models.RoleContractor}
)

// insertAsset stores a listed, AVAILABLE asset with no offers.
func insertAsset(t *testing.T, database *mongo.Database, mutate ...func(*models.Asset)) *models.Asset {
	t.Helper()
	ts := now()
	asset := &models.Asset{
		Base:         models.NewBase(),
		Make:         "Ferrari",
		Model:        "F40",
		Year:         1987,
		AskingPrice:  2500000,
		MinPrice:     2200000,
		CurrencyCode: "usd",
		Status:       models.AssetAvailable,
		Offers:       []models.Offer{},
		IsListed:     true,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	for _, m := range mutate {
		m(asset)
	}
	_, err := database.Collection(db.AssetsCollection).InsertOne(context.Background(), asset)
	require.NoError(t, err)
	return asset
}

// --- Fakes ---

type recordingNotifier struct {
	mu        sync.Mutex
	submitted []models.Offer
	accepted  []models.Offer
	rejected  []models.Offer
	declined  []models.Offer
	sold      []utils.SixID
}

func (n *recordingNotifier) OfferSubmitted(_ context.Context, _ *models.Asset, offer models.Offer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, offer)
}

func (n *recordingNotifier) OfferAccepted(_ context.Context, _ *models.Asset, accepted models.Offer, rejected []models.Offer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accepted = append(n.accepted, accepted)
	n.rejected = append(n.rejected, rejected...)
}

func (n *recordingNotifier) OfferDeclined(_ context.Context, _ *models.Asset, offer models.Offer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.declined = append(n.declined, offer)
}

func (n *recordingNotifier) SaleCompleted(_ context.Context, _ *models.Asset, buyerID utils.SixID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sold = append(n.sold, buyerID)
}

type scheduledRelease struct {
	AssetID utils.SixID
	OfferID utils.SixID
	After   time.Duration
}

type recordingScheduler struct {
	mu       sync.Mutex
	releases []scheduledRelease
	images   []string
	err      error
}

func (s *recordingScheduler) ScheduleReservationRelease(_ context.Context, assetID, offerID utils.SixID, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, scheduledRelease{AssetID: assetID, OfferID: offerID, After: after})
	return s.err
}

func (s *recordingScheduler) ScheduleImageProcess(_ context.Context, _ utils.SixID, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, objectKey)
	return s.err
}

// fakeProvider keeps intents in memory. Status of an intent can be changed
// by the test to simulate the buyer completing checkout.
type fakeProvider struct {
	mu        sync.Mutex
	intents   map[string]*payments.Intent
	created   []payments.CreateIntentParams
	createErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: map[string]*payments.Intent{}}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateIntent(_ context.Context, params payments.CreateIntentParams) (*payments.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created = append(p.created, params)
	ref := "pi_" + utils.NewSixID().String()
	intent := &payments.Intent{
		Ref:          ref,
		ClientSecret: ref + "_secret",
		Status:       payments.IntentRequiresInput,
		AmountMinor:  params.AmountMinor,
		Currency:     params.Currency,
		Metadata:     params.Metadata,
	}
	p.intents[ref] = intent
	copied := *intent
	return &copied, nil
}

func (p *fakeProvider) GetIntent(_ context.Context, ref string) (*payments.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[ref]
	if !ok {
		return nil, payments.ErrNotConfigured
	}
	copied := *intent
	return &copied, nil
}

func (p *fakeProvider) ParseEvent([]byte, string) (*payments.Event, error) {
	return nil, payments.ErrInvalidSignature
}

func (p *fakeProvider) PublishableKey() string { return "pk_test_fake" }

func (p *fakeProvider) TestMode() bool { return true }

func (p *fakeProvider) setStatus(ref string, status payments.IntentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[ref].Status = status
}

// onlyIntent returns the single intent created so far.
func (p *fakeProvider) onlyIntent(t *testing.T) *payments.Intent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.intents, 1)
	for _, intent := range p.intents {
		copied := *intent
		return &copied
	}
	return nil
}
