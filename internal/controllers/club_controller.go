package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/database"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/utils"
)

// publicProfileTTL bounds staleness for changes made outside the club
// handlers, such as a deployment going live.
const publicProfileTTL = time.Minute

type cachedProfile struct {
	body     gin.H
	cachedAt time.Time
}

// ProfileCache caches public club profiles by slug.
type ProfileCache struct {
	cache *lru.Cache[string, cachedProfile]
}

func NewProfileCache(size int) *ProfileCache {
	cache, _ := lru.New[string, cachedProfile](size)
	return &ProfileCache{cache: cache}
}

func (p *ProfileCache) get(slug string) (gin.H, bool) {
	if p == nil {
		return nil, false
	}
	entry, ok := p.cache.Get(slug)
	if !ok || time.Since(entry.cachedAt) > publicProfileTTL {
		return nil, false
	}
	return entry.body, true
}

func (p *ProfileCache) put(slug string, body gin.H) {
	if p != nil {
		p.cache.Add(slug, cachedProfile{body: body, cachedAt: time.Now()})
	}
}

// Invalidate drops the cached profiles for the given slugs.
func (p *ProfileCache) Invalidate(slugs ...string) {
	if p == nil {
		return
	}
	for _, s := range slugs {
		p.cache.Remove(s)
	}
}

// InvalidateClub drops the cached profile of the club with clubID.
func (p *ProfileCache) InvalidateClub(db *gorm.DB, clubID string) {
	var club models.Club
	if err := db.Select("slug").Where("id = ?", clubID).First(&club).Error; err == nil {
		p.Invalidate(club.Slug)
	}
}

type ClubController struct {
	DB     *gorm.DB
	Notify *notify.Service
	Cache  *ProfileCache
	Log    *zap.Logger
}

type createClubRequest struct {
	Name         string `json:"name" binding:"required"`
	Slug         string `json:"slug"`
	Description  string `json:"description"`
	ContactEmail string `json:"contact_email" binding:"omitempty,email"`
	LogoURL      string `json:"logo_url" binding:"omitempty,url"`
	Plan         string `json:"plan"`
	Active       *bool  `json:"active"`
}

type updateClubRequest struct {
	Name         *string `json:"name"`
	Slug         *string `json:"slug"`
	Description  *string `json:"description"`
	ContactEmail *string `json:"contact_email" binding:"omitempty,email"`
	LogoURL      *string `json:"logo_url" binding:"omitempty,url"`
	Plan         *string `json:"plan"`
	Active       *bool   `json:"active"`
}

func clubSlug(name, requested string) (string, error) {
	slug := strings.TrimSpace(requested)
	if slug == "" {
		slug = utils.Slugify(name)
	}
	if !utils.ValidSlug(slug) {
		return "", fmt.Errorf("invalid slug %q", slug)
	}
	return slug, nil
}

func (cc *ClubController) ListClubs(c *gin.Context) {
	p := parseListParams(c, 20, map[string]string{
		"created_at":          "created_at",
		"name":                "name",
		"slug":                "slug",
		"subscription_status": "subscription_status",
		"active":              "active",
	}, "created_at")

	base := cc.DB.Model(&models.Club{})
	if p.Q != "" {
		like := "%" + strings.ToLower(p.Q) + "%"
		base = base.Where("LOWER(name) LIKE ? OR LOWER(slug) LIKE ?", like, like)
	}
	status := strings.TrimSpace(strings.ToLower(c.Query("subscription_status")))
	if status != "" {
		base = base.Where("subscription_status = ?", status)
	}
	activeStr := strings.TrimSpace(c.Query("active"))
	if activeStr != "" {
		active, ok := parseBoolFilter(activeStr)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active value"})
			return
		}
		base = base.Where("active = ?", active)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var clubs []models.Club
	if err := p.paginate(base).Find(&clubs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	meta := p.meta(total)
	if status != "" {
		meta["subscription_status"] = status
	}
	if activeStr != "" {
		meta["active"] = activeStr
	}
	c.JSON(http.StatusOK, gin.H{"data": clubs, "meta": meta})
}

func (cc *ClubController) GetClub(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var club models.Club
	if err := cc.DB.Where("id = ?", id).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}
	var members, websites int64
	cc.DB.Model(&models.User{}).Where("club_id = ?", id).Count(&members)
	cc.DB.Model(&models.Website{}).Where("club_id = ?", id).Count(&websites)
	c.JSON(http.StatusOK, gin.H{"club": club, "members": members, "websites": websites})
}

// CreateClub creates a club and its default forum categories.
func (cc *ClubController) CreateClub(c *gin.Context) {
	var req createClubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slug, err := clubSlug(req.Name, req.Slug)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	club := models.Club{
		Name:         strings.TrimSpace(req.Name),
		Slug:         slug,
		Description:  req.Description,
		ContactEmail: strings.ToLower(strings.TrimSpace(req.ContactEmail)),
		LogoURL:      req.LogoURL,
		Plan:         req.Plan,
		Active:       active,
	}
	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&club).Error; err != nil {
			return err
		}
		return database.SeedClubForum(tx, club.ID)
	})
	if err != nil {
		respondDBError(c, err, "club")
		return
	}
	c.JSON(http.StatusCreated, club)
}

func (cc *ClubController) applyUpdate(c *gin.Context, club *models.Club, req updateClubRequest, superadmin bool) bool {
	oldSlug := club.Slug
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return false
		}
		club.Name = name
	}
	if req.Slug != nil && superadmin {
		slug, err := clubSlug(club.Name, *req.Slug)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return false
		}
		club.Slug = slug
	}
	if req.Description != nil {
		club.Description = *req.Description
	}
	if req.ContactEmail != nil {
		club.ContactEmail = strings.ToLower(strings.TrimSpace(*req.ContactEmail))
	}
	if req.LogoURL != nil {
		club.LogoURL = *req.LogoURL
	}
	if superadmin {
		if req.Plan != nil {
			club.Plan = *req.Plan
		}
		if req.Active != nil {
			club.Active = *req.Active
		}
	}
	if err := cc.DB.Save(club).Error; err != nil {
		respondDBError(c, err, "club")
		return false
	}
	cc.Cache.Invalidate(oldSlug, club.Slug)
	return true
}

func (cc *ClubController) UpdateClub(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var club models.Club
	if err := cc.DB.Where("id = ?", id).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}
	var req updateClubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cc.applyUpdate(c, &club, req, true) {
		c.JSON(http.StatusOK, club)
	}
}

// DeleteClub removes a club with everything it owns. Stored media is left
// to the storage backend's lifecycle rules.
func (cc *ClubController) DeleteClub(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var club models.Club
	if err := cc.DB.Where("id = ?", id).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}
	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		userIDs := tx.Model(&models.User{}).Select("id").Where("club_id = ?", id)
		topicIDs := tx.Model(&models.ForumTopic{}).Select("id").Where("club_id = ?", id)
		steps := []*gorm.DB{
			tx.Where("user_id_ref IN (?)", userIDs).Delete(&models.RefreshToken{}),
			tx.Where("topic_id IN (?)", topicIDs).Delete(&models.ForumPost{}),
			tx.Where("club_id = ?", id).Delete(&models.ForumTopic{}),
			tx.Where("club_id = ?", id).Delete(&models.ForumCategory{}),
			tx.Where("club_id = ?", id).Delete(&models.GalleryImage{}),
			tx.Where("club_id = ?", id).Delete(&models.Notification{}),
			tx.Where("club_id = ?", id).Delete(&models.Job{}),
			tx.Where("club_id = ?", id).Delete(&models.Website{}),
			tx.Where("club_id = ?", id).Delete(&models.User{}),
			tx.Where("id = ?", id).Delete(&models.Club{}),
		}
		for _, s := range steps {
			if s.Error != nil {
				return s.Error
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cc.Cache.Invalidate(club.Slug)
	if cc.Log != nil {
		cc.Log.Info("club deleted", zap.String("club_id", id), zap.String("slug", club.Slug))
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// GetOwnClub returns the caller's club settings.
func (cc *ClubController) GetOwnClub(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var club models.Club
	if err := cc.DB.Where("id = ?", clubIDOf(user)).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}
	c.JSON(http.StatusOK, club)
}

func (cc *ClubController) UpdateOwnClub(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var club models.Club
	if err := cc.DB.Where("id = ?", clubIDOf(user)).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}
	var req updateClubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cc.applyUpdate(c, &club, req, false) {
		c.JSON(http.StatusOK, club)
	}
}

func (cc *ClubController) findPublicClub(c *gin.Context) (models.Club, bool) {
	slug := strings.ToLower(strings.TrimSpace(c.Param("slug")))
	var club models.Club
	if err := cc.DB.Where("slug = ? AND active = ?", slug, true).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return models.Club{}, false
	}
	return club, true
}

// PublicClub returns the club profile with its live websites.
func (cc *ClubController) PublicClub(c *gin.Context) {
	slug := strings.ToLower(strings.TrimSpace(c.Param("slug")))
	if body, ok := cc.Cache.get(slug); ok {
		c.JSON(http.StatusOK, body)
		return
	}
	club, ok := cc.findPublicClub(c)
	if !ok {
		return
	}

	var websites []models.Website
	if err := cc.DB.Where("club_id = ? AND status = ?", club.ID, models.WebsiteLive).
		Order("name ASC").Find(&websites).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sites := make([]gin.H, 0, len(websites))
	for _, w := range websites {
		sites = append(sites, gin.H{"name": w.Name, "slug": w.Slug, "url": w.LiveURL})
	}
	var members int64
	cc.DB.Model(&models.User{}).Where("club_id = ? AND active = ?", club.ID, true).Count(&members)

	body := gin.H{
		"id":          club.ID,
		"name":        club.Name,
		"slug":        club.Slug,
		"description": club.Description,
		"logo_url":    club.LogoURL,
		"members":     members,
		"websites":    sites,
	}
	cc.Cache.put(slug, body)
	c.JSON(http.StatusOK, body)
}

type contactRequest struct {
	Name    string `json:"name" binding:"required,max=120"`
	Email   string `json:"email" binding:"required,email"`
	Subject string `json:"subject" binding:"max=200"`
	Message string `json:"message" binding:"required,max=5000"`
}

// Contact forwards a public contact form to the club's admins.
func (cc *ClubController) Contact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	club, ok := cc.findPublicClub(c)
	if !ok {
		return
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "New contact message"
	}
	body := fmt.Sprintf("From: %s <%s>\n\n%s", req.Name, req.Email, req.Message)

	ctx := c.Request.Context()
	if _, err := cc.Notify.ClubAdmins(ctx, club.ID, notify.Message{
		Kind:  models.NotifyContactMessage,
		Title: subject,
		Body:  body,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deliver message"})
		return
	}
	cc.Notify.EmailClub(ctx, club, fmt.Sprintf("[%s] %s", club.Name, subject), body, req.Email)
	c.JSON(http.StatusAccepted, gin.H{"message": "sent"})
}
