package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/LaxRaj/the-garage/internal/api/middleware"
	"github.com/LaxRaj/the-garage/internal/api/responses"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/services"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// AssetHandler serves the catalogue and contractor asset management.
type AssetHandler struct {
	assetService services.IAssetService
}

func NewAssetHandler(assetService services.IAssetService) *AssetHandler {
	return &AssetHandler{assetService: assetService}
}

// parseIDParam reads a SixID path parameter, writing INVALID_INPUT on failure.
func parseIDParam(c *gin.Context, name string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param(name))
	if err != nil {
		responses.WriteError(c, apperrors.Newf(apperrors.CodeInvalidInput, "invalid %s", name))
		return utils.SixID{}, false
	}
	return id, true
}

// mustIdentity returns the identity set by AuthMiddleware.
func mustIdentity(c *gin.Context) (models.Identity, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		responses.WriteError(c, apperrors.New(apperrors.CodeUnauthorized, "authentication required"))
	}
	return identity, ok
}

// ListMarketplace handles GET /v1/assets
func (h *AssetHandler) ListMarketplace(c *gin.Context) {
	assets, err := h.assetService.ListMarketplace(c.Request.Context())
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, models.PublicAssets(assets))
}

// Featured handles GET /v1/assets/featured
func (h *AssetHandler) Featured(c *gin.Context) {
	asset, err := h.assetService.FeaturedAsset(c.Request.Context())
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, asset.Public())
}

// GetAsset handles GET /v1/assets/:id. Contractors get the full document.
func (h *AssetHandler) GetAsset(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	asset, err := h.assetService.GetAsset(c.Request.Context(), id)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	if identity, ok := middleware.IdentityFrom(c); ok && identity.IsContractor() {
		responses.OK(c, asset)
		return
	}
	responses.OK(c, asset.Public())
}

// ToggleListing handles POST /v1/assets/:id/listing
func (h *AssetHandler) ToggleListing(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	asset, err := h.assetService.ToggleListing(c.Request.Context(), id, identity)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, asset)
}

// ListGarage handles GET /v1/me/garage
func (h *AssetHandler) ListGarage(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	assets, err := h.assetService.ListGarage(c.Request.Context(), identity)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, models.PublicAssets(assets))
}

// ListHouseInventory handles GET /v1/house
func (h *AssetHandler) ListHouseInventory(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	assets, err := h.assetService.ListHouseInventory(c.Request.Context(), identity)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, assets)
}

type imageUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// RequestImageUpload handles POST /v1/assets/:id/image
func (h *AssetHandler) RequestImageUpload(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req imageUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.WriteError(c, apperrors.Wrap(apperrors.CodeInvalidInput, err, "filename and content_type are required"))
		return
	}
	upload, err := h.assetService.RequestImageUpload(c.Request.Context(), id, identity, req.Filename, req.ContentType)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.Created(c, upload)
}
