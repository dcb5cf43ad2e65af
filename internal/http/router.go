package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/famlink-backend/internal/http/handlers"
	httpMW "github.com/yungbote/famlink-backend/internal/http/middleware"
	"github.com/yungbote/famlink-backend/internal/observability"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware

	FamilyHandler  *httpH.FamilyHandler
	MessageHandler *httpH.MessageHandler
	CheckInHandler *httpH.CheckInHandler
	ReportHandler  *httpH.ReportHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("famlink-backend"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))

	// Health + metrics
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	// Auth (public)
	if cfg.AuthHandler != nil {
		r.POST("/register", cfg.AuthHandler.Register)
		r.POST("/login", cfg.AuthHandler.Login)
		r.POST("/refresh", cfg.AuthHandler.Refresh)
	}

	protected := r.Group("/api")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AuthHandler != nil {
			protected.POST("/logout", cfg.AuthHandler.Logout)
		}

		if cfg.FamilyHandler != nil {
			protected.POST("/families", cfg.FamilyHandler.Create)
			protected.GET("/families", cfg.FamilyHandler.ListMine)
			protected.GET("/families/:id", cfg.FamilyHandler.Get)
			protected.PATCH("/families/:id/settings", cfg.FamilyHandler.UpdateSettings)
			protected.POST("/families/:id/subscription", cfg.FamilyHandler.ChangeSubscription)
			protected.POST("/families/:id/parents", cfg.FamilyHandler.AddParent)
			protected.POST("/families/:id/children", cfg.FamilyHandler.AddChild)
			protected.DELETE("/families/:id/children/:childId", cfg.FamilyHandler.RemoveChild)
			protected.GET("/families/:id/translations", cfg.FamilyHandler.Translations)
			protected.POST("/translations/:id/feedback", cfg.FamilyHandler.RecordFeedback)
		}

		if cfg.MessageHandler != nil {
			protected.POST("/messages", cfg.MessageHandler.Translate)
		}

		if cfg.CheckInHandler != nil {
			protected.GET("/families/:id/checkins", cfg.CheckInHandler.List)
			protected.POST("/checkins/:id/answers", cfg.CheckInHandler.SubmitAnswer)
			protected.POST("/checkins/:id/cancel", cfg.CheckInHandler.Cancel)
		}

		if cfg.ReportHandler != nil {
			protected.GET("/families/:id/reports", cfg.ReportHandler.List)
			protected.POST("/families/:id/reports", cfg.ReportHandler.Generate)
			protected.GET("/reports/:id/chart.png", cfg.ReportHandler.Chart)
		}
	}

	return r
}
