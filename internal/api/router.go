package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"locker-kiosk-backend/config"
	"locker-kiosk-backend/internal/metrics"
	"locker-kiosk-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	pickupLimiter := mw.PickupLimiter(cfg.PickupAttemptsPerMin)

	// The hardware diagnostic is cached briefly; the controller sits on a serial line.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/lockers", h.GetLockers)
		api.GET("/lockers/available", h.GetAvailableLockers)

		api.POST("/pickups", pickupLimiter, h.CreatePickup)
		api.GET("/pickups/:id", h.GetPickup)
		api.DELETE("/pickups/:id", h.CancelPickup)

		api.GET("/subscriptions", h.GetSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		api.POST("/admin/login", mw.PickupLimiter(cfg.PickupAttemptsPerMin), h.Login)

		admin := api.Group("/admin")
		admin.Use(mw.AdminAuth(h.admin.JWTSecret))
		{
			admin.POST("/reconcile", h.Reconcile)
			admin.POST("/lockers/:id/reserve", h.Reserve)
			admin.POST("/lockers/:id/release", h.Release)
			admin.POST("/lockers/:id/open", h.OpenLocker)
			admin.GET("/records", h.GetRecords)
			admin.PUT("/records", h.PutRecords)
			admin.GET("/history", h.GetHistory)
			admin.GET("/hardware", caching, h.GetHardware)
			// Pickup codes are pushed to whoever is bound to a contact, so
			// binding is an operator action.
			admin.PUT("/subscriptions", h.PutSubscription)
		}
	}

	return r
}
