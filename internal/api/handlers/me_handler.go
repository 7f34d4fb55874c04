package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/LaxRaj/the-garage/internal/api/responses"
	"github.com/LaxRaj/the-garage/internal/models"
)

type meResponse struct {
	models.Identity
	IsContractor bool `json:"is_contractor"`
}

// Me handles GET /v1/me
func Me(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	responses.OK(c, meResponse{Identity: identity, IsContractor: identity.IsContractor()})
}

// Ping handles GET /v1/ping
func Ping(c *gin.Context) {
	responses.OK(c, gin.H{"status": "ok"})
}
