package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"wasch-booking-backend/internal/mw"
)

// RouterConfig tunes the middleware in front of the handlers.
type RouterConfig struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	CacheTTL        time.Duration
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	caching := mw.Cache(cacheStore, cfg.CacheTTL)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.Use(rateLimiter, mw.FlushOnWrite(cacheStore))
	{
		// The horizon and the grid change with the clock and with bookings
		// made by other instances, so they are never served from the cache.
		api.GET("/slots", h.GetSlots)
		api.GET("/machines", caching, h.GetMachines)
		api.GET("/references/:reference", h.GetReference)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		user := api.Group("", mw.RequireUser())
		user.GET("/grid", h.GetGrid)
		user.GET("/ration", h.GetRation)
		user.GET("/bonus", h.GetBonus)

		user.POST("/appointments", h.CreateAppointment)
		user.GET("/appointments/:reference", h.GetAppointment)
		user.POST("/appointments/:reference/use", h.UseAppointment)
		user.POST("/appointments/:reference/cancel", h.CancelAppointment)
		user.POST("/appointments/:reference/rebook", h.RebookAppointment)

		user.GET("/subscriptions", h.GetSubscription)
		user.PUT("/subscriptions", h.PutSubscription)
		user.DELETE("/subscriptions", h.DeleteSubscription)

		admin := user.Group("/admin", h.RequireStaff)
		admin.POST("/autorefund", h.PostAutoRefund)
		admin.GET("/parameters", h.GetParameters)
		admin.PUT("/parameters/:name", h.PutParameter)
		admin.POST("/users", h.CreateUser)
		admin.POST("/users/:username/activate", h.ActivateUser)
		admin.POST("/users/:username/deactivate", h.DeactivateUser)
		admin.PUT("/users/:username/status", h.PutUserStatus)
		admin.PUT("/machines/:number", h.PutMachine)
		admin.POST("/bonus", h.PostBonus)
	}

	return r
}
