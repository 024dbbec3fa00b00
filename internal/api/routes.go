package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobpilot/internal/api/middleware"
	"jobpilot/internal/auth"
	"jobpilot/internal/config"
	"jobpilot/internal/jobs"
	"jobpilot/internal/payment"
	"jobpilot/internal/storage"
	"jobpilot/internal/subscription"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	authService *auth.AuthService,
	redisClient redis.UniversalClient,
	storageClient *storage.Client,
	subsService *subscription.Service,
	jobsService *jobs.Service,
	verifier payment.Verifier,
	logger *slog.Logger,
) {
	authHandler := NewAuthHandler(db, authService, redisClient, logger,
		cfg.Auth.LoginRateLimitPerHour, cfg.Auth.LoginLockThreshold, cfg.Auth.LoginLockTTL, cfg.Auth.CookieDomain)
	profileHandler := NewProfileHandler(db)
	credentialsHandler := NewCredentialsHandler(db)
	resumeHandler := NewResumeHandler(db, storageClient, logger,
		cfg.Upload.ClamdAddr, cfg.Upload.MaxBytes, cfg.Upload.AllowedTypes)
	jobsHandler := NewJobsHandler(db, jobsService)
	subscriptionHandler := NewSubscriptionHandler(subsService, verifier)
	internalHandler := NewInternalHandler(jobsService, redisClient)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(authService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		profileGroup := v1.Group("/profile")
		profileGroup.Use(authMiddleware, passwordGate)
		{
			profileGroup.GET("", profileHandler.GetProfile)
			profileGroup.POST("", profileHandler.UpdateProfile)
		}

		credentialsGroup := v1.Group("/credentials")
		credentialsGroup.Use(authMiddleware, passwordGate)
		{
			credentialsGroup.GET("", credentialsHandler.GetCredentials)
			credentialsGroup.POST("", credentialsHandler.SaveCredentials)
		}

		resumeGroup := v1.Group("/resume")
		resumeGroup.Use(authMiddleware, passwordGate)
		{
			resumeGroup.GET("", resumeHandler.CheckResume)
			resumeGroup.POST("/upload", resumeHandler.UploadResume)
			resumeGroup.DELETE("", resumeHandler.DeleteResume)
			resumeGroup.GET("/:id", resumeHandler.DownloadResume)
			resumeGroup.GET("/:id/link", resumeHandler.DownloadLink)
		}

		jobsGroup := v1.Group("/jobs")
		jobsGroup.Use(authMiddleware, passwordGate)
		{
			jobsGroup.GET("", jobsHandler.ListJobs)
			jobsGroup.POST("", jobsHandler.CreateJob)
			jobsGroup.GET("/:id", jobsHandler.GetJob)
			jobsGroup.DELETE("/:id", jobsHandler.CancelJob)
		}

		subscriptionGroup := v1.Group("/subscription")
		subscriptionGroup.Use(authMiddleware, passwordGate)
		{
			subscriptionGroup.GET("", subscriptionHandler.GetSubscription)
			subscriptionGroup.POST("", subscriptionHandler.Upgrade)
			subscriptionGroup.DELETE("", subscriptionHandler.Downgrade)
		}
	}

	internalGroup := router.Group("/internal")
	internalGroup.Use(middleware.InternalSecretMiddleware(cfg.Internal.Secret))
	{
		internalGroup.POST("/jobs/:id/status", internalHandler.ReportStatus)
		internalGroup.POST("/jobs/:id/progress", internalHandler.ReportProgress)
		internalGroup.POST("/jobs/:id/logs", internalHandler.ReportLog)
		internalGroup.POST("/jobs/:id/applications", internalHandler.ReportApplication)
	}
}
