package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/LaxRaj/the-garage/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Template ids used by the workflow notifications.
const (
	TemplateOfferReceived = "offer_received"
	TemplateOfferAccepted = "offer_accepted"
	TemplateOfferRejected = "offer_rejected"
	TemplateSaleCompleted = "sale_completed"
)

// DefaultLocale is used when a recipient has no locale preference.
const DefaultLocale = "en-US"

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	TemplateOfferReceived: {
		TemplateID: TemplateOfferReceived,
		Locale:     DefaultLocale,
		Subject:    "We received your offer on the {{.asset}}",
		Body:       "Hi {{.name}}, your offer of {{.amount}} on the {{.asset}} is with our team. We will let you know once it has been reviewed.",
	},
	TemplateOfferAccepted: {
		TemplateID: TemplateOfferAccepted,
		Locale:     DefaultLocale,
		Subject:    "Your offer on the {{.asset}} was accepted",
		Body:       "Hi {{.name}}, your offer of {{.amount}} on the {{.asset}} was accepted and the car is reserved for you. Complete payment at /assets/{{.asset_id}}/checkout.",
	},
	TemplateOfferRejected: {
		TemplateID: TemplateOfferRejected,
		Locale:     DefaultLocale,
		Subject:    "Update on your offer for the {{.asset}}",
		Body:       "Hi {{.name}}, unfortunately your offer of {{.amount}} on the {{.asset}} was not accepted.",
	},
	TemplateSaleCompleted: {
		TemplateID: TemplateSaleCompleted,
		Locale:     DefaultLocale,
		Subject:    "The {{.asset}} is yours",
		Body:       "Hi {{.name}}, payment is complete and the {{.asset}} is now in your garage.",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
}

const emailTemplatesCollection = "email_templates"

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{
		db: db,
	}
}

// GetTemplate retrieves an email template by ID and locale, falling back to
// the built-in default.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	var template models.EmailTemplate
	err := s.db.Collection(emailTemplatesCollection).FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	return &template, nil
}

// SaveTemplate upserts an email template by id and locale.
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, template *models.EmailTemplate) error {
	template.GenIDIfEmpty()
	filter := bson.M{
		"template_id": template.TemplateID,
		"locale":      template.Locale,
	}
	update := bson.M{
		"$set":         bson.M{"subject": template.Subject, "body": template.Body},
		"$setOnInsert": bson.M{"_id": template.ID},
	}

	_, err := s.db.Collection(emailTemplatesCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

// DeleteTemplate removes an override so the default applies again.
func (s *EmailTemplateService) DeleteTemplate(ctx context.Context, templateID string, locale string) error {
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}
	if _, err := s.db.Collection(emailTemplatesCollection).DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	return nil
}
