package database

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zaqqye/clubhub_backend/internal/config"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.DBDriver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.SQLitePath), gcfg)
	case "postgres", "":
		return gorm.Open(postgres.Open(cfg.DSN()), gcfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.DBDriver)
	}
}

// AllModels lists every table managed by Migrate.
func AllModels() []any {
	return []any{
		&models.Club{},
		&models.User{},
		&models.RefreshToken{},
		&models.Website{},
		&models.Job{},
		&models.Notification{},
		&models.ForumCategory{},
		&models.ForumTopic{},
		&models.ForumPost{},
		&models.GalleryImage{},
		&models.AppSetting{},
		&models.BillingEvent{},
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}

// Ping checks that the underlying connection is alive.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
