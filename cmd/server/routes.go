package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aura-webinar/livestream/config"
	"github.com/aura-webinar/livestream/internal/analytics"
	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/chat"
	"github.com/aura-webinar/livestream/internal/ingest"
	"github.com/aura-webinar/livestream/internal/middleware"
	"github.com/aura-webinar/livestream/internal/notifications"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/internal/viewers"
	"github.com/aura-webinar/livestream/pkg/response"
)

type handlers struct {
	streams       *streams.Handler
	ingest        *ingest.Handler
	viewers       *viewers.Handler
	chat          *chat.Handler
	analytics     *analytics.Handler
	notifications *notifications.Handler
	ws            gin.HandlerFunc
}

func newRouter(cfg *config.Config, logger *zap.Logger, jwtService *auth.JWTService, reg *prometheus.Registry, h handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health", "/metrics"))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Media server callbacks (shared secret, no JWT)
	router.POST("/ingest/publish", h.ingest.Publish)
	router.POST("/ingest/publish_done", h.ingest.PublishDone)

	// WebSocket (token in query; anonymous viewers allowed)
	router.GET("/ws", h.ws)

	// Viewer-facing API: anonymous allowed, identity attached when present
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService))
	{
		public.GET("/streams", h.streams.List)
		public.GET("/streams/:id", h.streams.Get)

		public.POST("/streams/:id/viewers/join", h.viewers.Join)
		public.GET("/streams/:id/viewers/count", h.viewers.Count)
		public.GET("/streams/:id/viewers/unique", h.viewers.Unique)
		public.POST("/viewers/:session_id/heartbeat", h.viewers.Heartbeat)
		public.POST("/viewers/:session_id/leave", h.viewers.Leave)

		public.GET("/streams/:id/chat", h.chat.List)
		public.GET("/streams/:id/reactions", h.chat.ReactionCounts)
		public.POST("/streams/:id/analytics/quality", h.analytics.ReportQuality)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/streams", middleware.RequireRole(auth.RoleAdmin, auth.RoleBroadcaster), h.streams.Create)
		api.PATCH("/streams/:id", h.streams.Update)
		api.POST("/streams/:id/cancel", h.streams.Cancel)
		api.GET("/streams/:id/ingest", h.streams.Ingest)
		api.POST("/streams/:id/end", h.ingest.End)
		api.GET("/streams/:id/recording", h.streams.RecordingURL)

		api.GET("/streams/:id/viewers", h.viewers.List)

		api.POST("/streams/:id/chat", h.chat.Post)
		api.POST("/streams/:id/chat/:message_id/moderate", h.chat.Moderate)
		api.POST("/streams/:id/reactions", h.chat.React)

		api.GET("/streams/:id/analytics", h.analytics.GetByStream)
		api.GET("/streams/:id/notifications", h.notifications.List)
	}
	return router
}
