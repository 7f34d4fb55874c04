package tasks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/email"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/services"
	"github.com/LaxRaj/the-garage/internal/tasks"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// --- Mocks ---

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	args := m.Called(ctx, to, subject, rawMessage)
	return args.Error(0)
}

type MockEmailTemplateService struct {
	mock.Mock
}

func (m *MockEmailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	args := m.Called(ctx, templateID, locale)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailTemplate), args.Error(1)
}

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) UpsertUser(ctx context.Context, params services.UpsertUserParams) (*models.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GeneratePresignedPutURL(ctx context.Context, assetID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, assetID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockStorage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockStorage) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	args := m.Called(ctx, key, body, contentType)
	return args.Error(0)
}

func (m *MockStorage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockImageSetter struct {
	mock.Mock
}

func (m *MockImageSetter) SetImage(ctx context.Context, assetID utils.SixID, image string) error {
	args := m.Called(ctx, assetID, image)
	return args.Error(0)
}

type MockReleaser struct {
	mock.Mock
}

func (m *MockReleaser) ReleaseReservation(ctx context.Context, assetID, offerID utils.SixID) (bool, error) {
	args := m.Called(ctx, assetID, offerID)
	return args.Bool(0), args.Error(1)
}

type MockEnqueuer struct {
	mock.Mock
	tasks []*asynq.Task
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.tasks = append(m.tasks, task)
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

func newTask(t *testing.T, typename string, payload any) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typename, data)
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// --- Email ---

func TestHandleEmailDeliveryTask_ResolvesUser(t *testing.T) {
	sender := new(MockEmailSender)
	templates := new(MockEmailTemplateService)
	users := new(MockUserService)
	cfg := &config.Config{SmtpFromAddress: "noreply@garage.test", AppName: "The Garage"}
	p := tasks.NewTaskProcessor(cfg, sender, nil, nil, nil, users, templates)

	userID := utils.NewSixID()
	users.On("FindByID", mock.Anything, userID).
		Return(&models.User{Base: models.Base{ID: userID}, DisplayName: "Jo", Email: "jo@example.com"}, nil)
	templates.On("GetTemplate", mock.Anything, services.TemplateOfferAccepted, "").
		Return(&models.EmailTemplate{
			TemplateID: services.TemplateOfferAccepted,
			Subject:    "Accepted: {{.asset}}",
			Body:       "Hi {{.name}}, {{.amount}} for the {{.asset}}.",
		}, nil)
	sender.On("Send", mock.Anything, []string{"jo@example.com"}, "Accepted: 1989 Ferrari F40",
		mock.MatchedBy(func(raw []byte) bool {
			s := string(raw)
			return strings.Contains(s, "To: jo@example.com\r\n") &&
				strings.Contains(s, "From: The Garage <noreply@garage.test>\r\n") &&
				strings.Contains(s, email.TemplateHeader+": offer_accepted\r\n") &&
				strings.Contains(s, "Hi Jo, 2300000.00 USD for the 1989 Ferrari F40.")
		})).Return(nil).Once()

	task := newTask(t, tasks.TypeEmailDelivery, tasks.EmailTaskPayload{
		UserID:     userID.String(),
		TemplateID: services.TemplateOfferAccepted,
		Data:       map[string]string{"asset": "1989 Ferrari F40", "amount": "2300000.00 USD"},
	})

	require.NoError(t, p.HandleEmailDeliveryTask(context.Background(), task))
	sender.AssertExpectations(t)
	templates.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestHandleEmailDeliveryTask_SkipsUserWithoutEmail(t *testing.T) {
	sender := new(MockEmailSender)
	templates := new(MockEmailTemplateService)
	users := new(MockUserService)
	p := tasks.NewTaskProcessor(&config.Config{}, sender, nil, nil, nil, users, templates)

	userID := utils.NewSixID()
	users.On("FindByID", mock.Anything, userID).Return(&models.User{DisplayName: "NoMail"}, nil)

	task := newTask(t, tasks.TypeEmailDelivery, tasks.EmailTaskPayload{UserID: userID.String(), TemplateID: services.TemplateSaleCompleted})
	require.NoError(t, p.HandleEmailDeliveryTask(context.Background(), task))

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	templates.AssertNotCalled(t, "GetTemplate", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleEmailDeliveryTask_UnknownUserIsDropped(t *testing.T) {
	users := new(MockUserService)
	p := tasks.NewTaskProcessor(&config.Config{}, new(MockEmailSender), nil, nil, nil, users, new(MockEmailTemplateService))

	userID := utils.NewSixID()
	users.On("FindByID", mock.Anything, userID).Return(nil, apperrors.NotFound("user not found"))

	task := newTask(t, tasks.TypeEmailDelivery, tasks.EmailTaskPayload{UserID: userID.String(), TemplateID: services.TemplateOfferReceived})
	assert.NoError(t, p.HandleEmailDeliveryTask(context.Background(), task))
}

func TestHandleEmailDeliveryTask_TemplateMissing(t *testing.T) {
	templates := new(MockEmailTemplateService)
	p := tasks.NewTaskProcessor(&config.Config{}, new(MockEmailSender), nil, nil, nil, nil, templates)

	templates.On("GetTemplate", mock.Anything, "nope", "").Return(nil, errors.New("template not found"))

	task := newTask(t, tasks.TypeEmailDelivery, tasks.EmailTaskPayload{To: "a@example.com", TemplateID: "nope"})
	err := p.HandleEmailDeliveryTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleEmailDeliveryTask_SenderErrorIsRetried(t *testing.T) {
	sender := new(MockEmailSender)
	templates := new(MockEmailTemplateService)
	p := tasks.NewTaskProcessor(&config.Config{}, sender, nil, nil, nil, nil, templates)

	templates.On("GetTemplate", mock.Anything, services.TemplateOfferReceived, "").
		Return(&models.EmailTemplate{Subject: "s", Body: "b"}, nil)
	sender.On("Send", mock.Anything, []string{"a@example.com"}, "s", mock.Anything).Return(errors.New("smtp down"))

	task := newTask(t, tasks.TypeEmailDelivery, tasks.EmailTaskPayload{To: "a@example.com", TemplateID: services.TemplateOfferReceived})
	err := p.HandleEmailDeliveryTask(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleEmailDeliveryTask_BadPayload(t *testing.T) {
	p := tasks.NewTaskProcessor(&config.Config{}, nil, nil, nil, nil, nil, nil)
	err := p.HandleEmailDeliveryTask(context.Background(), asynq.NewTask(tasks.TypeEmailDelivery, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

// --- Images ---

func imageConfig() *config.Config {
	return &config.Config{
		ImageMaxDimension: 16,
		ImageMaxSizeMB:    1,
		ImageBaseS3URL:    "https://cdn.garage.test/",
	}
}

func TestHandleImageProcessTask_ResizesLargeImage(t *testing.T) {
	store := new(MockStorage)
	assets := new(MockImageSetter)
	p := tasks.NewTaskProcessor(imageConfig(), nil, store, assets, nil, nil, nil)

	assetID := utils.NewSixID()
	key := "uploads/assets/" + assetID.String() + "/x_car.png"
	store.On("GetObject", mock.Anything, key).Return(pngBytes(t, 64, 32), "image/png", nil)
	store.On("PutObject", mock.Anything, key, mock.MatchedBy(func(body []byte) bool {
		img, format, err := image.Decode(bytes.NewReader(body))
		return err == nil && format == "jpeg" && img.Bounds().Dx() == 16 && img.Bounds().Dy() == 8
	}), "image/jpeg").Return(nil).Once()
	assets.On("SetImage", mock.Anything, assetID, "https://cdn.garage.test/"+key).Return(nil).Once()

	task := newTask(t, tasks.TypeImageProcess, tasks.ImageTaskPayload{S3Key: key, AssetID: assetID.String()})
	require.NoError(t, p.HandleImageProcessTask(context.Background(), task))
	store.AssertExpectations(t)
	assets.AssertExpectations(t)
}

func TestHandleImageProcessTask_SmallImageKeptAsIs(t *testing.T) {
	store := new(MockStorage)
	assets := new(MockImageSetter)
	p := tasks.NewTaskProcessor(imageConfig(), nil, store, assets, nil, nil, nil)

	assetID := utils.NewSixID()
	store.On("GetObject", mock.Anything, "k.png").Return(pngBytes(t, 8, 8), "image/png", nil)
	assets.On("SetImage", mock.Anything, assetID, "https://cdn.garage.test/k.png").Return(nil).Once()

	task := newTask(t, tasks.TypeImageProcess, tasks.ImageTaskPayload{S3Key: "k.png", AssetID: assetID.String()})
	require.NoError(t, p.HandleImageProcessTask(context.Background(), task))
	store.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assets.AssertExpectations(t)
}

func TestHandleImageProcessTask_CorruptImageDiscarded(t *testing.T) {
	store := new(MockStorage)
	p := tasks.NewTaskProcessor(imageConfig(), nil, store, new(MockImageSetter), nil, nil, nil)

	assetID := utils.NewSixID()
	store.On("GetObject", mock.Anything, "bad.png").Return([]byte("not an image"), "image/png", nil)
	store.On("DeleteObject", mock.Anything, "bad.png").Return(nil).Once()

	task := newTask(t, tasks.TypeImageProcess, tasks.ImageTaskPayload{S3Key: "bad.png", AssetID: assetID.String()})
	err := p.HandleImageProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	store.AssertExpectations(t)
}

func TestHandleImageProcessTask_InvalidAssetID(t *testing.T) {
	p := tasks.NewTaskProcessor(imageConfig(), nil, new(MockStorage), nil, nil, nil, nil)
	task := newTask(t, tasks.TypeImageProcess, tasks.ImageTaskPayload{S3Key: "k", AssetID: "???"})
	assert.ErrorIs(t, p.HandleImageProcessTask(context.Background(), task), asynq.SkipRetry)
}

// --- Reservations ---

func TestHandleReservationReleaseTask(t *testing.T) {
	releaser := new(MockReleaser)
	p := tasks.NewTaskProcessor(&config.Config{}, nil, nil, nil, releaser, nil, nil)

	assetID, offerID := utils.NewSixID(), utils.NewSixID()
	releaser.On("ReleaseReservation", mock.Anything, assetID, offerID).Return(false, nil).Once()

	task := newTask(t, tasks.TypeReservationRelease, tasks.ReservationReleasePayload{AssetID: assetID.String(), OfferID: offerID.String()})
	require.NoError(t, p.HandleReservationReleaseTask(context.Background(), task))
	releaser.AssertExpectations(t)
}

func TestHandleReservationReleaseTask_StoreErrorIsRetried(t *testing.T) {
	releaser := new(MockReleaser)
	p := tasks.NewTaskProcessor(&config.Config{}, nil, nil, nil, releaser, nil, nil)

	assetID, offerID := utils.NewSixID(), utils.NewSixID()
	releaser.On("ReleaseReservation", mock.Anything, assetID, offerID).Return(false, apperrors.Internal(errors.New("down"), "failed"))

	task := newTask(t, tasks.TypeReservationRelease, tasks.ReservationReleasePayload{AssetID: assetID.String(), OfferID: offerID.String()})
	err := p.HandleReservationReleaseTask(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

// --- Dispatcher ---

func TestDispatcher_OfferAcceptedNotifiesEveryBidder(t *testing.T) {
	enq := new(MockEnqueuer)
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil)
	d := tasks.NewDispatcher(enq)

	asset := &models.Asset{Base: models.NewBase(), Make: "McLaren", Model: "F1", Year: 1995, CurrencyCode: "usd"}
	accepted := models.Offer{ID: utils.NewSixID(), UserID: utils.NewSixID(), Alias: "Winner", Amount: 19500000}
	rejected := []models.Offer{
		{ID: utils.NewSixID(), UserID: utils.NewSixID(), Alias: "A", Amount: 18000000},
		{ID: utils.NewSixID(), UserID: utils.NewSixID(), Alias: "B", Amount: 18100000},
	}

	d.OfferAccepted(context.Background(), asset, accepted, rejected)

	require.Len(t, enq.tasks, 3)
	var first tasks.EmailTaskPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &first))
	assert.Equal(t, tasks.TypeEmailDelivery, enq.tasks[0].Type())
	assert.Equal(t, services.TemplateOfferAccepted, first.TemplateID)
	assert.Equal(t, accepted.UserID.String(), first.UserID)
	assert.Equal(t, "1995 McLaren F1", first.Data["asset"])
	assert.Equal(t, "19500000.00 USD", first.Data["amount"])

	for i, task := range enq.tasks[1:] {
		var payload tasks.EmailTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, services.TemplateOfferRejected, payload.TemplateID)
		assert.Equal(t, rejected[i].UserID.String(), payload.UserID)
	}
}

func TestDispatcher_EnqueueFailureIsSwallowed(t *testing.T) {
	enq := new(MockEnqueuer)
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))
	d := tasks.NewDispatcher(enq)

	asset := &models.Asset{Base: models.NewBase(), Make: "Ferrari", Model: "F40", Year: 1989}
	assert.NotPanics(t, func() {
		d.OfferSubmitted(context.Background(), asset, models.Offer{UserID: utils.NewSixID(), Amount: 1})
	})
	assert.Len(t, enq.tasks, 1)
}

func TestDispatcher_ScheduleReservationRelease(t *testing.T) {
	enq := new(MockEnqueuer)
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict).Once()
	d := tasks.NewDispatcher(enq)

	assetID, offerID := utils.NewSixID(), utils.NewSixID()
	require.NoError(t, d.ScheduleReservationRelease(context.Background(), assetID, offerID, time.Hour))

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, tasks.TypeReservationRelease, enq.tasks[0].Type())
	var payload tasks.ReservationReleasePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, assetID.String(), payload.AssetID)
	assert.Equal(t, offerID.String(), payload.OfferID)
}

func TestDispatcher_ScheduleImageProcess(t *testing.T) {
	enq := new(MockEnqueuer)
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil).Once()
	d := tasks.NewDispatcher(enq)

	assetID := utils.NewSixID()
	require.NoError(t, d.ScheduleImageProcess(context.Background(), assetID, "uploads/k.jpg"))

	var payload tasks.ImageTaskPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, "uploads/k.jpg", payload.S3Key)
	assert.Equal(t, assetID.String(), payload.AssetID)
}
