package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zaqqye/clubhub_backend/internal/config"
	"github.com/zaqqye/clubhub_backend/internal/database"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/testutil"
	"github.com/zaqqye/clubhub_backend/internal/utils"
)

func TestSeedAdminGeneratesPassword(t *testing.T) {
	db := testutil.NewDB(t)
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := &config.Config{AdminEmail: "root@clubhub.test"}

	require.NoError(t, database.SeedAdmin(db, cfg, zap.New(core)))

	entries := logs.FilterMessageSnippet("generated password").All()
	require.Len(t, entries, 1)
	password, _ := entries[0].ContextMap()["password"].(string)
	assert.Len(t, password, 16)

	var admin models.User
	require.NoError(t, db.Where("email = ?", "root@clubhub.test").First(&admin).Error)
	assert.Equal(t, models.RoleSuperAdmin, admin.Role)
	assert.True(t, utils.CheckPassword(admin.Password, password))

	// a second run leaves the existing superadmin alone
	require.NoError(t, database.SeedAdmin(db, &config.Config{AdminEmail: "other@clubhub.test", AdminPassword: "password123"}, zap.NewNop()))
	var count int64
	db.Model(&models.User{}).Where("role = ?", models.RoleSuperAdmin).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSeedSettingsKeepsExistingValues(t *testing.T) {
	db := testutil.NewDB(t)
	require.NoError(t, db.Create(&models.AppSetting{Key: "signup_enabled", Value: "false"}).Error)

	cfg := &config.Config{LatestTemplateVersion: "2.0.0"}
	require.NoError(t, database.SeedSettings(db, cfg))
	require.NoError(t, database.SeedSettings(db, cfg))

	var settings []models.AppSetting
	require.NoError(t, db.Order("key").Find(&settings).Error)
	values := map[string]string{}
	for _, s := range settings {
		values[s.Key] = s.Value
	}
	assert.Equal(t, map[string]string{
		"latest_template_version": "2.0.0",
		"max_gallery_images":      "500",
		"signup_enabled":          "false",
	}, values)
}

func TestSeedClubForumIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	club := testutil.CreateClub(t, db, "Seed Club")

	require.NoError(t, database.SeedClubForum(db, club.ID))
	require.NoError(t, database.SeedClubForum(db, club.ID))

	var count int64
	db.Model(&models.ForumCategory{}).Where("club_id = ?", club.ID).Count(&count)
	assert.Equal(t, int64(len(database.DefaultForumCategories)), count)
}
