package routes

import (
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/billing"
	"github.com/zaqqye/clubhub_backend/internal/config"
	"github.com/zaqqye/clubhub_backend/internal/controllers"
	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/jobs"
	"github.com/zaqqye/clubhub_backend/internal/metrics"
	"github.com/zaqqye/clubhub_backend/internal/middleware"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/storage"
	"github.com/zaqqye/clubhub_backend/internal/ws"
)

// Deps carries the services shared by the HTTP handlers.
type Deps struct {
	DB        *gorm.DB
	Cfg       *config.Config
	Log       *zap.Logger
	Store     storage.Storage
	Runner    *jobs.Runner
	Generator *deploy.Generator
	Notify    *notify.Service
	Billing   *billing.Service
	Hubs      *ws.Hubs
	// Limiter throttles the unauthenticated auth and contact endpoints.
	Limiter *middleware.RateLimiter
	// LatestTemplateVersion defaults the template version of new websites.
	LatestTemplateVersion func() string
}

// NewEngine builds the gin engine with the global middleware stack.
func NewEngine(cfg *config.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	return r
}

func Register(r *gin.Engine, d Deps) {
	db, cfg := d.DB, d.Cfg
	var jobHub *ws.JobHub
	var userHub *ws.UserHub
	if d.Hubs != nil {
		jobHub, userHub = d.Hubs.Jobs, d.Hubs.Users
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, d.Log)
	}
	limit := d.Limiter.Handler()
	ws.AllowOrigins(cfg.CORSOrigins)

	profiles := controllers.NewProfileCache(256)
	authCtrl := &controllers.AuthController{
		DB:            db,
		Log:           d.Log,
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.RefreshJWTSecret,
		AccessTTL:     cfg.AccessTTL(),
		RefreshTTL:    cfg.RefreshTTL(),
		CookieName:    cfg.SessionCookieName,
		CookieSecure:  cfg.SessionCookieSecure,
	}
	userCtrl := &controllers.UserController{DB: db, Log: d.Log}
	clubCtrl := &controllers.ClubController{DB: db, Notify: d.Notify, Cache: profiles, Log: d.Log}
	websiteCtrl := &controllers.WebsiteController{DB: db, Cache: profiles, DefaultTemplateVersion: d.LatestTemplateVersion}
	deployCtrl := &controllers.DeployController{DB: db, Generator: d.Generator, Runner: d.Runner, APIBaseURL: cfg.PublicBaseURL}
	jobCtrl := &controllers.JobController{DB: db, Runner: d.Runner, Store: d.Store}
	notifCtrl := &controllers.NotificationController{DB: db}
	forumCtrl := &controllers.ForumController{DB: db, Notify: d.Notify, Log: d.Log}
	galleryCtrl := &controllers.GalleryController{DB: db, Store: d.Store, Log: d.Log}
	billingCtrl := &controllers.BillingController{DB: db, Billing: d.Billing, BaseURL: cfg.PublicBaseURL, Log: d.Log}
	settingsCtrl := &controllers.SettingsController{DB: db}
	healthCtrl := &controllers.HealthController{DB: db}

	r.GET("/healthz", healthCtrl.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	// only gallery images are public; backups and bundles go through /jobs/:id/artifact
	if local, ok := d.Store.(*storage.LocalStorage); ok {
		r.Static("/media/gallery", filepath.Join(local.Root(), "gallery"))
	}

	// Public
	public := r.Group("/api/public")
	{
		public.GET("/clubs/:slug", clubCtrl.PublicClub)
		public.GET("/clubs/:slug/gallery", galleryCtrl.PublicList)
		public.POST("/clubs/:slug/contact", limit, clubCtrl.Contact)
	}
	hooks := r.Group("/api/webhooks")
	{
		hooks.POST("/paypal", billingCtrl.Webhook(billing.ProviderPayPal))
		hooks.POST("/stripe", billingCtrl.Webhook(billing.ProviderStripe))
	}
	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/register", limit, authCtrl.Register)
		auth.POST("/login", limit, authCtrl.Login)
		auth.POST("/refresh", limit, authCtrl.Refresh)
	}

	// Protected
	authMW := middleware.AuthMiddleware(db, middleware.AuthConfig{
		JWTSecret:  cfg.JWTSecret,
		CookieName: cfg.SessionCookieName,
	})
	api := r.Group("/api/v1", authMW)
	{
		api.GET("/auth/me", authCtrl.Me)
		api.POST("/auth/logout", authCtrl.Logout)

		notifications := api.Group("/notifications")
		{
			notifications.GET("", notifCtrl.List)
			notifications.GET("/unread-count", notifCtrl.UnreadCount)
			notifications.POST("/read-all", notifCtrl.MarkAllRead)
			notifications.POST("/:id/read", notifCtrl.MarkRead)
			notifications.GET("/ws", ws.NotificationsHandler(userHub))
		}

		member := api.Group("", middleware.RequireClub())
		admin := middleware.RequireRoles(models.RoleAdmin)

		forum := member.Group("/forum")
		{
			forum.GET("/categories", forumCtrl.ListCategories)
			forum.POST("/categories", admin, forumCtrl.CreateCategory)
			forum.PUT("/categories/:id", admin, forumCtrl.UpdateCategory)
			forum.DELETE("/categories/:id", admin, forumCtrl.DeleteCategory)
			forum.GET("/categories/:id/topics", forumCtrl.ListTopics)
			forum.POST("/categories/:id/topics", forumCtrl.CreateTopic)
			forum.GET("/topics/:id", forumCtrl.GetTopic)
			forum.DELETE("/topics/:id", forumCtrl.DeleteTopic)
			forum.POST("/topics/:id/pin", admin, forumCtrl.PinTopic)
			forum.POST("/topics/:id/lock", admin, forumCtrl.LockTopic)
			forum.POST("/topics/:id/posts", forumCtrl.Reply)
			forum.PUT("/posts/:id", forumCtrl.EditPost)
			forum.DELETE("/posts/:id", forumCtrl.DeletePost)
		}

		gallery := member.Group("/gallery")
		{
			gallery.GET("", galleryCtrl.List)
			gallery.POST("", galleryCtrl.Upload)
			gallery.DELETE("/:id", galleryCtrl.Delete)
		}

		clubAdmin := member.Group("", admin)
		{
			clubAdmin.GET("/club", clubCtrl.GetOwnClub)
			clubAdmin.PUT("/club", clubCtrl.UpdateOwnClub)

			clubAdmin.GET("/billing/status", billingCtrl.Status)
			clubAdmin.POST("/billing/subscribe", billingCtrl.Subscribe)
			clubAdmin.POST("/billing/cancel", billingCtrl.Cancel)
		}

		adminGroup := api.Group("/admin", admin, middleware.RequireClub())
		{
			adminGroup.GET("/users", userCtrl.ListUsers)
			adminGroup.POST("/users", userCtrl.CreateUser)
			adminGroup.POST("/users/import", userCtrl.ImportUsers)
			adminGroup.GET("/users/:user_id", userCtrl.GetUser)
			adminGroup.PUT("/users/:user_id", userCtrl.UpdateUser)
			adminGroup.DELETE("/users/:user_id", userCtrl.DeleteUser)

			adminGroup.GET("/websites", websiteCtrl.ListWebsites)
			adminGroup.POST("/websites", websiteCtrl.CreateWebsite)
			adminGroup.GET("/websites/:id", websiteCtrl.GetWebsite)
			adminGroup.PUT("/websites/:id", websiteCtrl.UpdateWebsite)
			adminGroup.DELETE("/websites/:id", websiteCtrl.DeleteWebsite)

			adminGroup.GET("/deploy/providers", deployCtrl.Providers)
			adminGroup.POST("/deploy/generate", deployCtrl.Generate)
			adminGroup.GET("/deploy/bundle/:websiteId", deployCtrl.Bundle)
			adminGroup.GET("/deploy/status/:jobId", deployCtrl.Status)
			adminGroup.POST("/deploy", deployCtrl.Deploy)

			adminGroup.GET("/jobs", jobCtrl.ListJobs)
			adminGroup.GET("/jobs/ws", ws.JobsHandler(jobHub))
			adminGroup.POST("/jobs/backup", jobCtrl.Backup)
			adminGroup.POST("/jobs/update-check", jobCtrl.UpdateCheck)
			adminGroup.GET("/jobs/:id", jobCtrl.GetJob)
			adminGroup.GET("/jobs/:id/artifact", jobCtrl.Artifact)
			adminGroup.POST("/jobs/:id/cancel", jobCtrl.CancelJob)
			adminGroup.POST("/jobs/:id/retry", jobCtrl.RetryJob)
		}

		super := api.Group("/admin", middleware.RequireRoles(models.RoleSuperAdmin))
		{
			super.GET("/clubs", clubCtrl.ListClubs)
			super.POST("/clubs", clubCtrl.CreateClub)
			super.GET("/clubs/:id", clubCtrl.GetClub)
			super.PUT("/clubs/:id", clubCtrl.UpdateClub)
			super.DELETE("/clubs/:id", clubCtrl.DeleteClub)

			super.GET("/settings", settingsCtrl.List)
			super.PUT("/settings", settingsCtrl.Update)
		}
	}
}
