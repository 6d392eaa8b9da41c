package jobs

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/utils"
)

// UpdateCheckHandler compares a website's template version with the latest
// release and tells the club admins once per new version.
type UpdateCheckHandler struct {
	DB     *gorm.DB
	Notify *notify.Service
	// Latest returns the newest template version.
	Latest func(ctx context.Context) string
}

func (h *UpdateCheckHandler) Run(ctx context.Context, job *models.Job, rep Reporter) (Outcome, error) {
	if job.WebsiteID == nil {
		return Outcome{}, errors.New("update check job has no website")
	}
	var website models.Website
	if err := h.DB.WithContext(ctx).First(&website, "id = ?", *job.WebsiteID).Error; err != nil {
		return Outcome{}, fmt.Errorf("failed to load website: %w", err)
	}
	latest := h.Latest(ctx)
	current := website.TemplateVersion
	outdated := current != "" && current != "latest" && latest != "" &&
		utils.CompareVersions(current, latest) < 0
	rep.Progress(50, fmt.Sprintf("template %s, latest %s", displayVersion(current), latest))

	result := map[string]any{
		"website_id": website.ID,
		"current":    current,
		"latest":     latest,
		"outdated":   outdated,
	}
	if !outdated || h.Notify == nil {
		return Outcome{Result: result}, nil
	}

	title := fmt.Sprintf("Update %s available for %s", latest, website.Name)
	var already int64
	if err := h.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("club_id = ? AND kind = ? AND title = ?", website.ClubID, models.NotifyUpdateAvailable, title).
		Count(&already).Error; err != nil {
		return Outcome{}, err
	}
	if already == 0 {
		if _, err := h.Notify.ClubAdmins(ctx, website.ClubID, notify.Message{
			Kind:  models.NotifyUpdateAvailable,
			Title: title,
			Body:  fmt.Sprintf("%s runs template %s. Redeploy after updating to %s.", website.Name, current, latest),
			Link:  "/websites/" + website.ID,
		}); err != nil {
			return Outcome{}, err
		}
		result["notified"] = true
	}
	return Outcome{Result: result}, nil
}

func displayVersion(v string) string {
	if v == "" {
		return "unset"
	}
	return v
}

// LatestTemplateVersion reads the platform setting, falling back to def.
func LatestTemplateVersion(db *gorm.DB, def string) func(ctx context.Context) string {
	return func(ctx context.Context) string {
		var s models.AppSetting
		if err := db.WithContext(ctx).First(&s, "key = ?", "latest_template_version").Error; err == nil && s.Value != "" {
			return s.Value
		}
		return def
	}
}
