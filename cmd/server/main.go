package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/config"
	"github.com/zaqqye/clubhub_backend/internal/database"
	"github.com/zaqqye/clubhub_backend/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:          "clubhub",
	Short:        "Car club platform backend",
	Long:         "Serves the club API, runs deployment and maintenance jobs, and generates club website bundles.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(
		serveCmd,
		migrateCmd,
		seedCmd,
		generateCmd,
	)
}

func main() {
	// .env is optional in production
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration, the logger and an open database.
func bootstrap() (*config.Config, *zap.Logger, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logger.New(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	return cfg, log, db, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, log, db, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		defer database.Close(db) //nolint:errcheck
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		log.Info("schema migrated")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the superadmin account and default settings",
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
		return nil
	},
}
