package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/LaxRaj/the-garage/internal/api/responses"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/services"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// OfferHandler exposes the offer workflow.
type OfferHandler struct {
	offerService services.IOfferService
}

func NewOfferHandler(offerService services.IOfferService) *OfferHandler {
	return &OfferHandler{offerService: offerService}
}

type submitOfferRequest struct {
	Amount  *float64 `json:"amount" binding:"required"`
	Alias   string   `json:"alias"`
	Message string   `json:"message"`
}

// SubmitOffer handles POST /v1/assets/:id/offers
func (h *OfferHandler) SubmitOffer(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	assetID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req submitOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.WriteError(c, apperrors.Wrap(apperrors.CodeInvalidInput, err, "amount is required"))
		return
	}

	offer, err := h.offerService.SubmitOffer(c.Request.Context(), assetID, identity, *req.Amount, req.Alias, req.Message)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.Created(c, offer)
}

// ListAssetOffers handles GET /v1/assets/:id/offers
func (h *OfferHandler) ListAssetOffers(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	assetID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	offers, err := h.offerService.ListAssetOffers(c.Request.Context(), assetID, identity)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, offers)
}

// AcceptOffer handles POST /v1/assets/:id/offers/:offer_id/accept
func (h *OfferHandler) AcceptOffer(c *gin.Context) {
	h.decide(c, h.offerService.AcceptOffer)
}

// DeclineOffer handles POST /v1/assets/:id/offers/:offer_id/decline
func (h *OfferHandler) DeclineOffer(c *gin.Context) {
	h.decide(c, h.offerService.DeclineOffer)
}

type decisionFunc func(ctx context.Context, assetID, offerID utils.SixID, identity models.Identity) (*models.Asset, error)

func (h *OfferHandler) decide(c *gin.Context, fn decisionFunc) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	assetID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	offerID, ok := parseIDParam(c, "offer_id")
	if !ok {
		return
	}
	asset, err := fn(c.Request.Context(), assetID, offerID, identity)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, asset)
}

// ListMyOffers handles GET /v1/me/offers
func (h *OfferHandler) ListMyOffers(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	offers, err := h.offerService.ListMyOffers(c.Request.Context(), identity)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, offers)
}
