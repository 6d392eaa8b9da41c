package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

// SettingsController manages platform key/value settings.
type SettingsController struct {
	DB *gorm.DB
}

func (sc *SettingsController) List(c *gin.Context) {
	var settings []models.AppSetting
	if err := sc.DB.Order("key ASC").Find(&settings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

type settingItem struct {
	Key         string         `json:"key" binding:"required,max=128"`
	Value       FlexibleString `json:"value"`
	Description *string        `json:"description"`
}

type updateSettingsRequest struct {
	Settings []settingItem `json:"settings" binding:"required,min=1,dive"`
}

// Update upserts the given settings.
func (sc *SettingsController) Update(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		for _, item := range req.Settings {
			rec := models.AppSetting{Key: strings.TrimSpace(item.Key), Value: item.Value.String()}
			columns := []string{"value", "updated_at"}
			if item.Description != nil {
				rec.Description = *item.Description
				columns = append(columns, "description")
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns(columns),
			}).Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sc.List(c)
}

// settingValue reads a platform setting, falling back to def.
func settingValue(db *gorm.DB, key, def string) string {
	var s models.AppSetting
	if err := db.Where("key = ?", key).First(&s).Error; err != nil || strings.TrimSpace(s.Value) == "" {
		return def
	}
	return strings.TrimSpace(s.Value)
}
