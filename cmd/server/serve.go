package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zaqqye/clubhub_backend/internal/billing"
	"github.com/zaqqye/clubhub_backend/internal/database"
	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/jobs"
	"github.com/zaqqye/clubhub_backend/internal/mailer"
	"github.com/zaqqye/clubhub_backend/internal/middleware"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/routes"
	"github.com/zaqqye/clubhub_backend/internal/storage"
	"github.com/zaqqye/clubhub_backend/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and job workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, db, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		defer database.Close(db) //nolint:errcheck

		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		if err := database.SeedAdmin(db, cfg, log); err != nil {
			return fmt.Errorf("admin seed failed: %w", err)
		}
		if err := database.SeedSettings(db, cfg); err != nil {
			return fmt.Errorf("settings seed failed: %w", err)
		}

		store, err := storage.New(cfg)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		mail, err := mailer.New(cfg, log)
		if err != nil {
			return fmt.Errorf("mailer: %w", err)
		}
		hubs := ws.NewHubs()
		notifier := &notify.Service{DB: db, Push: hubs.Users, Mailer: mail, Log: log.Named("notify")}

		generator := deploy.NewGenerator(cfg.SiteImage)
		deployers := deploy.NewDefaultRegistry(deploy.Credentials{
			VercelToken:  cfg.VercelToken,
			VercelTeamID: cfg.VercelTeamID,
			NetlifyToken: cfg.NetlifyToken,
			RenderAPIKey: cfg.RenderAPIKey,
		}, store)

		runner := jobs.NewRunner(db, log.Named("jobs"), hubs.Jobs, jobs.Options{
			Workers:      cfg.DeployWorkers,
			PollInterval: cfg.DeployPollInterval(),
			Timeout:      cfg.DeployTimeout(),
		})
		latest := jobs.LatestTemplateVersion(db, cfg.LatestTemplateVersion)
		runner.Register(models.JobDeployment, &jobs.DeploymentHandler{
			DB:           db,
			Generator:    generator,
			Deployers:    deployers,
			Notify:       notifier,
			APIBaseURL:   cfg.PublicBaseURL,
			PollInterval: cfg.DeployPollInterval(),
			Log:          log.Named("deploy"),
		})
		runner.Register(models.JobBackup, &jobs.BackupHandler{DB: db, Store: store, Notify: notifier, APIBaseURL: cfg.PublicBaseURL})
		runner.Register(models.JobUpdateCheck, &jobs.UpdateCheckHandler{DB: db, Notify: notifier, Latest: latest})

		payments := billing.NewService(db, notifier, log.Named("billing"))
		if cfg.PayPalClientID != "" && cfg.PayPalSecret != "" {
			pp, err := billing.NewPayPal(cfg.PayPalClientID, cfg.PayPalSecret, cfg.PayPalMode, cfg.PayPalPlanID, cfg.PayPalWebhookID)
			if err != nil {
				return fmt.Errorf("paypal: %w", err)
			}
			payments.Register(pp)
		}
		if cfg.StripeSecretKey != "" {
			payments.Register(billing.NewStripe(cfg.StripeSecretKey, cfg.StripePriceID, cfg.StripeWebhookSecret))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := jobs.NewScheduler(log.Named("cron"))
		if err := runner.ScheduleMaintenance(ctx, sched, cfg.CronBackup, cfg.CronUpdateCheck); err != nil {
			return fmt.Errorf("schedule maintenance: %w", err)
		}
		sched.Start()
		defer sched.Stop(30 * time.Second)

		limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
		engine := routes.NewEngine(cfg, log)
		routes.Register(engine, routes.Deps{
			DB:        db,
			Cfg:       cfg,
			Log:       log,
			Store:     store,
			Runner:    runner,
			Generator: generator,
			Notify:    notifier,
			Billing:   payments,
			Hubs:      hubs,
			Limiter:   limiter,
			LatestTemplateVersion: func() string {
				return latest(context.Background())
			},
		})

		srv := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			hubs.Run(gctx.Done())
			return nil
		})
		g.Go(func() error {
			return runner.Start(gctx)
		})
		g.Go(func() error {
			t := time.NewTicker(time.Minute)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					limiter.Cleanup(10 * time.Minute)
				}
			}
		})
		g.Go(func() error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
