package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"
	"text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"

	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/email"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/services"
	"github.com/LaxRaj/the-garage/internal/storage"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// Task types.
const (
	TypeEmailDelivery      = "email:deliver"
	TypeImageProcess       = "image:process"
	TypeReservationRelease = "reservation:release"
)

// Queues.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueImages   = "images"
)

// RedisOpt builds the asynq connection options from config.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func NewClient(cfg *config.Config) *asynq.Client {
	return asynq.NewClient(RedisOpt(cfg))
}

// ImageSetter is the asset store surface used by image processing.
type ImageSetter interface {
	SetImage(ctx context.Context, assetID utils.SixID, image string) error
}

// ReservationReleaser is the payment bridge surface used by the release task.
type ReservationReleaser interface {
	ReleaseReservation(ctx context.Context, assetID, offerID utils.SixID) (bool, error)
}

// TaskProcessor holds the dependencies of the task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	storageService       storage.IS3Storage
	assetService         ImageSetter
	paymentService       ReservationReleaser
	userService          services.IUserService
	emailTemplateService services.IEmailTemplateService
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	storageService storage.IS3Storage,
	assetService ImageSetter,
	paymentService ReservationReleaser,
	userService services.IUserService,
	emailTemplateService services.IEmailTemplateService,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		storageService:       storageService,
		assetService:         assetService,
		paymentService:       paymentService,
		userService:          userService,
		emailTemplateService: emailTemplateService,
	}
}

// NewServer builds the asynq server and its mux. Handlers whose
// dependencies are missing are not registered.
func NewServer(cfg *config.Config, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		RedisOpt(cfg),
		asynq.Config{
			Queues: map[string]int{
				QueueCritical: 6,
				QueueImages:   3,
				QueueDefault:  2,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Ctx(ctx).Error().
					Err(err).
					Str("task_type", task.Type()).
					Bytes("payload", task.Payload()).
					Msg("task failed")
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReservationRelease, processor.HandleReservationReleaseTask)
	if processor.emailSender != nil && processor.emailTemplateService != nil {
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
	}
	if processor.storageService != nil {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
	}
	return srv, mux
}

// --- Email ---

// EmailTaskPayload addresses either a raw address (To) or a known user.
type EmailTaskPayload struct {
	To         string            `json:"to,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	TemplateID string            `json:"template_id"`
	Locale     string            `json:"locale,omitempty"`
	Data       map[string]string `json:"data"`
}

func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Data == nil {
		payload.Data = map[string]string{}
	}

	to := payload.To
	if to == "" && payload.UserID != "" {
		userID, err := utils.ParseSixID(payload.UserID)
		if err != nil {
			return fmt.Errorf("invalid user ID in email payload: %w", asynq.SkipRetry)
		}
		user, err := p.userService.FindByID(ctx, userID)
		if err != nil {
			if apperrors.Is(err, apperrors.CodeNotFound) {
				logger.Ctx(ctx).Info().Str("user_id", payload.UserID).Msg("email recipient unknown, skipping")
				return nil
			}
			return err
		}
		to = user.Email
		if payload.Data["name"] == "" {
			payload.Data["name"] = user.DisplayName
		}
	}
	if to == "" {
		logger.Ctx(ctx).Info().
			Str("user_id", payload.UserID).
			Str("template_id", payload.TemplateID).
			Msg("recipient has no email address, skipping")
		return nil
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, payload.TemplateID, payload.Locale)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("template_id", payload.TemplateID).Msg("email template lookup failed")
		return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
	}

	subject, err := render(tmpl.Subject, payload.Data)
	if err != nil {
		return fmt.Errorf("bad subject template %s: %v: %w", payload.TemplateID, err, asynq.SkipRetry)
	}
	body, err := render(tmpl.Body, payload.Data)
	if err != nil {
		return fmt.Errorf("bad body template %s: %v: %w", payload.TemplateID, err, asynq.SkipRetry)
	}

	rawMessage := buildMessage(p.fromAddress(), to, subject, payload.TemplateID, body)
	if err := p.emailSender.Send(ctx, []string{to}, subject, rawMessage); err != nil {
		return err
	}

	logger.Ctx(ctx).Info().Str("template_id", payload.TemplateID).Msg("email delivered")
	return nil
}

func (p *TaskProcessor) fromAddress() string {
	from := p.cfg.SmtpFromAddress
	if from == "" {
		from = "noreply@example.com"
	}
	if p.cfg.AppName != "" {
		return fmt.Sprintf("%s <%s>", p.cfg.AppName, from)
	}
	return from
}

func render(text string, data map[string]string) (string, error) {
	tmpl, err := template.New("email").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildMessage(from, to, subject, templateID, body string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	fmt.Fprintf(&sb, "%s: %s\r\n", email.TemplateHeader, templateID)
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// --- Images ---

type ImageTaskPayload struct {
	S3Key   string `json:"s3_key"`
	AssetID string `json:"asset_id"`
}

// HandleImageProcessTask bounds the uploaded image to the configured
// dimension and size, then points the asset at it.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}
	assetID, err := utils.ParseSixID(payload.AssetID)
	if err != nil {
		return fmt.Errorf("invalid asset ID in payload: %w", asynq.SkipRetry)
	}
	log := logger.Ctx(ctx).With().Str("asset_id", payload.AssetID).Str("key", payload.S3Key).Logger()

	imgData, contentType, err := p.storageService.GetObject(ctx, payload.S3Key)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Warn().Msg("uploaded image not available yet")
			return fmt.Errorf("s3 object not found: %w", err)
		}
		return fmt.Errorf("failed to download image: %w", err)
	}

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		p.discard(ctx, payload.S3Key)
		return fmt.Errorf("image exceeds max size (%d > %d bytes): %w", len(imgData), maxSizeBytes, asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		p.discard(ctx, payload.S3Key)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}

	maxDim := uint(p.cfg.ImageMaxDimension)
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	if uint(width) > maxDim || uint(height) > maxDim {
		resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		if int64(buf.Len()) > maxSizeBytes {
			p.discard(ctx, payload.S3Key)
			return fmt.Errorf("resized image still exceeds max size: %w", asynq.SkipRetry)
		}
		imgData = buf.Bytes()
		contentType = "image/jpeg"
		log.Info().
			Str("format", format).
			Int("width", width).
			Int("height", height).
			Int("resized_width", resized.Bounds().Dx()).
			Int("resized_height", resized.Bounds().Dy()).
			Msg("image resized")

		if err := p.storageService.PutObject(ctx, payload.S3Key, imgData, contentType); err != nil {
			return fmt.Errorf("failed to upload processed image: %w", err)
		}
	}

	if err := p.assetService.SetImage(ctx, assetID, p.imageURL(payload.S3Key)); err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return fmt.Errorf("asset %s no longer exists: %w", payload.AssetID, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to update asset image: %w", err)
	}

	log.Info().Msg("image processed")
	return nil
}

func (p *TaskProcessor) imageURL(key string) string {
	if p.cfg.ImageBaseS3URL == "" {
		return key
	}
	return strings.TrimRight(p.cfg.ImageBaseS3URL, "/") + "/" + key
}

func (p *TaskProcessor) discard(ctx context.Context, key string) {
	if err := p.storageService.DeleteObject(ctx, key); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to delete rejected upload")
	}
}

// --- Reservations ---

type ReservationReleasePayload struct {
	AssetID string `json:"asset_id"`
	OfferID string `json:"offer_id"`
}

func (p *TaskProcessor) HandleReservationReleaseTask(ctx context.Context, t *asynq.Task) error {
	var payload ReservationReleasePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal reservation payload: %v: %w", err, asynq.SkipRetry)
	}
	assetID, err := utils.ParseSixID(payload.AssetID)
	if err != nil {
		return fmt.Errorf("invalid asset ID in payload: %w", asynq.SkipRetry)
	}
	offerID, err := utils.ParseSixID(payload.OfferID)
	if err != nil {
		return fmt.Errorf("invalid offer ID in payload: %w", asynq.SkipRetry)
	}

	released, err := p.paymentService.ReleaseReservation(ctx, assetID, offerID)
	if err != nil {
		return err
	}
	if !released {
		logger.Ctx(ctx).Debug().
			Str("asset_id", payload.AssetID).
			Str("offer_id", payload.OfferID).
			Msg("reservation already settled")
	}
	return nil
}
