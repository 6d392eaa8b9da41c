package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

// secretMask replaces secret env var values in responses. Sending it back
// on update keeps the stored value.
const secretMask = deploy.SecretMask

type WebsiteController struct {
	DB    *gorm.DB
	Cache *ProfileCache
	// DefaultTemplateVersion is used when a website does not pin one.
	DefaultTemplateVersion func() string
}

type websiteRequest struct {
	ClubID           string            `json:"club_id"`
	Name             *string           `json:"name"`
	Slug             *string           `json:"slug"`
	Domain           *string           `json:"domain"`
	HostingProvider  *string           `json:"hosting_provider"`
	DatabaseProvider *string           `json:"database_provider"`
	Region           *string           `json:"region"`
	TemplateVersion  *FlexibleString   `json:"template_version"`
	ProviderTarget   *string           `json:"provider_target"`
	EnvVars          map[string]string `json:"env_vars"`
}

func websiteJSON(w models.Website) gin.H {
	env := deploy.MaskSecrets(w.EnvVars.Data())
	return gin.H{
		"id":                w.ID,
		"club_id":           w.ClubID,
		"name":              w.Name,
		"slug":              w.Slug,
		"domain":            w.Domain,
		"hosting_provider":  w.HostingProvider,
		"database_provider": w.DatabaseProvider,
		"region":            w.Region,
		"template_version":  w.TemplateVersion,
		"provider_target":   w.ProviderTarget,
		"env_vars":          env,
		"status":            w.Status,
		"live_url":          w.LiveURL,
		"last_deployed_at":  w.LastDeployedAt,
		"created_at":        w.CreatedAt,
		"updated_at":        w.UpdatedAt,
	}
}

// findWebsite loads a website visible to user, answering 404 otherwise.
func findWebsite(c *gin.Context, db *gorm.DB, user models.User, id string) (models.Website, bool) {
	var w models.Website
	if err := db.Where("id = ?", id).First(&w).Error; err != nil {
		respondDBError(c, err, "website")
		return models.Website{}, false
	}
	if !canAccessClub(user, w.ClubID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
		return models.Website{}, false
	}
	return w, true
}

// applyWebsite merges req into w and validates the result against the
// deployment catalog.
func (wc *WebsiteController) applyWebsite(w *models.Website, req websiteRequest) error {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&w.Name, req.Name)
	set(&w.Slug, req.Slug)
	set(&w.Domain, req.Domain)
	set(&w.HostingProvider, req.HostingProvider)
	set(&w.DatabaseProvider, req.DatabaseProvider)
	set(&w.Region, req.Region)
	set(&w.ProviderTarget, req.ProviderTarget)
	if req.TemplateVersion != nil {
		w.TemplateVersion = req.TemplateVersion.String()
	}
	if w.TemplateVersion == "" && wc.DefaultTemplateVersion != nil {
		w.TemplateVersion = wc.DefaultTemplateVersion()
	}
	if req.EnvVars != nil {
		old := w.EnvVars.Data()
		env := make(map[string]string, len(req.EnvVars))
		for k, v := range req.EnvVars {
			k = strings.TrimSpace(k)
			if v == secretMask {
				v = old[k]
			}
			env[k] = v
		}
		w.EnvVars = datatypes.NewJSONType(env)
	}

	site := deploy.SiteConfig{
		Name:            w.Name,
		Slug:            strings.ToLower(strings.TrimSpace(w.Slug)),
		Domain:          w.Domain,
		Hosting:         w.HostingProvider,
		Database:        w.DatabaseProvider,
		Region:          w.Region,
		TemplateVersion: w.TemplateVersion,
		EnvVars:         w.EnvVars.Data(),
	}
	site.Normalize()
	if err := site.Validate(); err != nil {
		return err
	}
	w.Name = site.Name
	w.Slug = site.Slug
	w.Domain = site.Domain
	w.HostingProvider = site.Hosting
	w.DatabaseProvider = site.Database
	w.Region = site.Region
	w.TemplateVersion = site.TemplateVersion
	return nil
}

func respondValidation(c *gin.Context, err error) {
	var vErr *deploy.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": deploy.ErrInvalidConfig.Error(), "problems": vErr.Problems})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
}

func (wc *WebsiteController) ListWebsites(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	p := parseListParams(c, 20, map[string]string{
		"created_at":       "created_at",
		"name":             "name",
		"slug":             "slug",
		"status":           "status",
		"last_deployed_at": "last_deployed_at",
	}, "created_at")

	base := scopeClub(c, wc.DB.Model(&models.Website{}), user, "club_id")
	if p.Q != "" {
		like := "%" + strings.ToLower(p.Q) + "%"
		base = base.Where("LOWER(name) LIKE ? OR LOWER(slug) LIKE ? OR LOWER(domain) LIKE ?", like, like, like)
	}
	status := strings.TrimSpace(strings.ToLower(c.Query("status")))
	if status != "" {
		base = base.Where("status = ?", status)
	}
	hosting := strings.TrimSpace(strings.ToLower(c.Query("hosting_provider")))
	if hosting != "" {
		base = base.Where("hosting_provider = ?", hosting)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var websites []models.Website
	if err := p.paginate(base).Find(&websites).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(websites))
	for _, w := range websites {
		out = append(out, websiteJSON(w))
	}
	meta := p.meta(total)
	if status != "" {
		meta["status"] = status
	}
	if hosting != "" {
		meta["hosting_provider"] = hosting
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": meta})
}

func (wc *WebsiteController) GetWebsite(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	w, ok := findWebsite(c, wc.DB, user, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, websiteJSON(w))
}

func (wc *WebsiteController) CreateWebsite(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req websiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	clubID, ok := targetClub(user, req.ClubID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "club_id is required"})
		return
	}
	if err := wc.DB.Where("id = ?", clubID).First(&models.Club{}).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.HostingProvider == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hosting_provider is required"})
		return
	}

	w := models.Website{ClubID: clubID, Status: models.WebsiteDraft}
	if err := wc.applyWebsite(&w, req); err != nil {
		respondValidation(c, err)
		return
	}
	if err := wc.DB.Create(&w).Error; err != nil {
		respondDBError(c, err, "website")
		return
	}
	c.JSON(http.StatusCreated, websiteJSON(w))
}

func (wc *WebsiteController) UpdateWebsite(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	w, ok := findWebsite(c, wc.DB, user, id)
	if !ok {
		return
	}
	if w.Status == models.WebsiteDeploying {
		c.JSON(http.StatusConflict, gin.H{"error": "website is being deployed"})
		return
	}
	var req websiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := wc.applyWebsite(&w, req); err != nil {
		respondValidation(c, err)
		return
	}
	if err := wc.DB.Save(&w).Error; err != nil {
		respondDBError(c, err, "website")
		return
	}
	wc.Cache.InvalidateClub(wc.DB, w.ClubID)
	c.JSON(http.StatusOK, websiteJSON(w))
}

func (wc *WebsiteController) DeleteWebsite(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	w, ok := findWebsite(c, wc.DB, user, id)
	if !ok {
		return
	}
	if w.Status == models.WebsiteDeploying {
		c.JSON(http.StatusConflict, gin.H{"error": "website is being deployed"})
		return
	}
	err := wc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("website_id = ?", w.ID).Delete(&models.Job{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", w.ID).Delete(&models.Website{}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	wc.Cache.InvalidateClub(wc.DB, w.ClubID)
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
