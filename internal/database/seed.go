package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/config"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/utils"
)

func SeedAdmin(db *gorm.DB, cfg *config.Config, log *zap.Logger) error {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleSuperAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	email := cfg.AdminEmail
	if email == "" {
		email = "admin@example.com"
	}
	fullName := cfg.AdminFullName
	if fullName == "" {
		fullName = "Administrator"
	}
	password := cfg.AdminPassword
	generated := password == ""
	if generated {
		code, err := utils.GenerateCode(16)
		if err != nil {
			return err
		}
		password = code
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.User{
		FullName: fullName,
		Email:    email,
		Password: hashed,
		Role:     models.RoleSuperAdmin,
		Active:   true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	if generated {
		log.Warn("seeded initial superadmin with a generated password; change it after first login",
			zap.String("email", email), zap.String("password", password))
		return nil
	}
	log.Info("seeded initial superadmin", zap.String("email", email))
	return nil
}

// SeedSettings inserts default platform settings without touching existing keys.
func SeedSettings(db *gorm.DB, cfg *config.Config) error {
	defaults := []models.AppSetting{
		{Key: "latest_template_version", Value: cfg.LatestTemplateVersion, Description: "Newest club site template version"},
		{Key: "signup_enabled", Value: "true", Description: "Allow member self-registration"},
		{Key: "max_gallery_images", Value: "500", Description: "Gallery image quota per club"},
	}
	for _, s := range defaults {
		var count int64
		if err := db.Model(&models.AppSetting{}).Where("key = ?", s.Key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		rec := s
		if err := db.Create(&rec).Error; err != nil {
			return err
		}
	}
	return nil
}

// DefaultForumCategories are created for every new club.
var DefaultForumCategories = []models.ForumCategory{
	{Name: "General", Slug: "general", Description: "Club news and general discussion", Position: 0},
	{Name: "Builds & Projects", Slug: "builds", Description: "Show off your car", Position: 1},
	{Name: "Events", Slug: "events", Description: "Meets, track days and cruises", Position: 2},
	{Name: "Marketplace", Slug: "marketplace", Description: "Parts for sale and wanted", Position: 3},
}

func SeedClubForum(tx *gorm.DB, clubID string) error {
	for _, c := range DefaultForumCategories {
		cat := c
		cat.ClubID = clubID
		if err := tx.Where("club_id = ? AND slug = ?", clubID, cat.Slug).FirstOrCreate(&cat).Error; err != nil {
			return err
		}
	}
	return nil
}
