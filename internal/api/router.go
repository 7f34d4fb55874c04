package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/LaxRaj/the-garage/internal/api/handlers"
	"github.com/LaxRaj/the-garage/internal/api/middleware"
	"github.com/LaxRaj/the-garage/internal/auth"
	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/email"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/payments"
	"github.com/LaxRaj/the-garage/internal/services"
	"github.com/LaxRaj/the-garage/internal/utils"
)

// Services are the dependencies of the public API.
type Services struct {
	Assets   services.IAssetService
	Offers   services.IOfferService
	Payments services.IPaymentService
	// Provider and WebhookGuard may be nil.
	Provider     payments.Provider
	WebhookGuard handlers.EventGuard
}

// SetupRouter configures and returns the main Gin engine. ctx bounds the
// rate limiter's background cleanup.
func SetupRouter(ctx context.Context, cfg *config.Config, svc Services) *gin.Engine {
	r := gin.New()

	rateLimiter := middleware.NewRateLimiterMiddleware(ctx, cfg)

	// Order matters: the request id must exist before anything logs.
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	assetHandler := handlers.NewAssetHandler(svc.Assets)
	offerHandler := handlers.NewOfferHandler(svc.Offers)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments)
	webhookHandler := handlers.NewWebhookHandler(svc.Provider, svc.Payments, svc.WebhookGuard)

	requireUser := middleware.AuthMiddleware(cfg.JwtSecret)
	requireContractor := middleware.ContractorMiddleware()

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", handlers.Ping)
		v1.GET("/payment/config", paymentHandler.PaymentConfig)
		v1.POST("/webhooks/stripe", webhookHandler.HandleStripe)

		assets := v1.Group("/assets")
		{
			assets.GET("", assetHandler.ListMarketplace)
			assets.GET("/featured", assetHandler.Featured)
			assets.GET("/:id", middleware.OptionalAuthMiddleware(cfg.JwtSecret), assetHandler.GetAsset)

			assets.POST("/:id/offers", requireUser, rateLimiter.LimitStrict(), offerHandler.SubmitOffer)
			assets.POST("/:id/payment-session", requireUser, paymentHandler.CreatePaymentSession)
			assets.POST("/:id/payment-confirmation", requireUser, paymentHandler.ConfirmPayment)

			assets.GET("/:id/offers", requireUser, requireContractor, offerHandler.ListAssetOffers)
			assets.POST("/:id/offers/:offer_id/accept", requireUser, requireContractor, offerHandler.AcceptOffer)
			assets.POST("/:id/offers/:offer_id/decline", requireUser, requireContractor, offerHandler.DeclineOffer)
			assets.POST("/:id/listing", requireUser, requireContractor, assetHandler.ToggleListing)
			assets.POST("/:id/image", requireUser, requireContractor, assetHandler.RequestImageUpload)
		}

		me := v1.Group("/me", requireUser)
		{
			me.GET("", handlers.Me)
			me.GET("/offers", offerHandler.ListMyOffers)
			me.GET("/garage", assetHandler.ListGarage)
		}

		v1.GET("/house", requireUser, requireContractor, assetHandler.ListHouseInventory)
	}

	return r
}

const (
	testEmailPolls    = 10
	testEmailInterval = 200 * time.Millisecond
)

type serviceRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments"`
}

// SetupServiceRouter configures the internal service engine used by
// operators and end-to-end tests. It must never be exposed publicly.
func SetupServiceRouter(cfg *config.Config, rdb redis.Cmdable, userService services.IUserService, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api", func(c *gin.Context) {
		var req serviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}
		log := logger.Ctx(c.Request.Context())

		switch req.Method {
		case "shutdown":
			log.Info().Msg("shutdown requested via service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Warn().Msg("shutdown already signaled")
			}

		case "issueToken":
			issueToken(c, cfg, userService, req.Arguments)

		case "getTestEmail":
			getTestEmail(c, rdb, req.Arguments)

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

// issueToken expects [user_id, display_name, email, role]. An empty user_id
// creates a new user.
func issueToken(c *gin.Context, cfg *config.Config, userService services.IUserService, raw json.RawMessage) {
	var args []string
	if err := json.Unmarshal(raw, &args); err != nil || len(args) != 4 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [userID, displayName, email, role]"})
		return
	}

	params := services.UpsertUserParams{DisplayName: args[1], Email: args[2], Role: models.Role(args[3])}
	if args[0] != "" {
		id, err := utils.ParseSixID(args[0])
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid user id"})
			return
		}
		params.ID = id
	}

	user, err := userService.UpsertUser(c.Request.Context(), params)
	if err != nil {
		logger.Ctx(c.Request.Context()).Warn().Err(err).Msg("issueToken: upsert failed")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	identity := models.Identity{UserID: user.ID, DisplayName: user.DisplayName, Role: user.Role}
	token, err := auth.GenerateJWT(identity, cfg.JwtSecret, cfg.JwtTTL)
	if err != nil {
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("issueToken: signing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to sign token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"token": token, "user": user}})
}

// getTestEmail expects [templateID, email] and returns the last message the
// Redis sender captured for that pair, deleting it.
func getTestEmail(c *gin.Context, rdb redis.Cmdable, raw json.RawMessage) {
	var args []string
	if err := json.Unmarshal(raw, &args); err != nil || len(args) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [templateID, email]"})
		return
	}
	if rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Redis is not configured"})
		return
	}
	key := email.MockEmailKey(args[1], args[0])

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var stored string
	found := false
	for i := 0; i < testEmailPolls; i++ {
		val, err := rdb.Get(ctx, key).Result()
		if err == nil {
			stored = val
			found = true
			rdb.Del(ctx, key)
			break
		}
		if !errors.Is(err, redis.Nil) {
			logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("getTestEmail: redis error")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
			return
		}
		time.Sleep(testEmailInterval)
	}

	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found for key %s", key)})
		return
	}

	var message email.MockEmail
	if err := json.Unmarshal([]byte(stored), &message); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("getTestEmail: bad stored email")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": message})
}
