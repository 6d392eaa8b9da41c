package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/jobs"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

type DeployController struct {
	DB         *gorm.DB
	Generator  *deploy.Generator
	Runner     *jobs.Runner
	APIBaseURL string
}

func (dc *DeployController) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hosting":  deploy.HostingProviders(),
		"database": deploy.DatabaseProviders(),
	})
}

type generateRequest struct {
	WebsiteID string             `json:"website_id"`
	ClubID    string             `json:"club_id"`
	Config    *deploy.SiteConfig `json:"config"`
}

// siteForWebsite builds the generator input for a stored website.
func (dc *DeployController) siteForWebsite(c *gin.Context, user models.User, websiteID string) (deploy.SiteConfig, bool) {
	w, ok := findWebsite(c, dc.DB, user, websiteID)
	if !ok {
		return deploy.SiteConfig{}, false
	}
	var club models.Club
	if err := dc.DB.Where("id = ?", w.ClubID).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return deploy.SiteConfig{}, false
	}
	return deploy.SiteFromWebsite(club, w, dc.APIBaseURL, ""), true
}

func (dc *DeployController) writeBundle(c *gin.Context, site deploy.SiteConfig, asZip bool) {
	bundle, err := dc.Generator.Generate(site)
	if err != nil {
		if errors.Is(err, deploy.ErrInvalidConfig) {
			respondValidation(c, err)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !asZip {
		c.JSON(http.StatusOK, bundle)
		return
	}
	data, err := bundle.Zip()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bundle.ZipName()))
	c.Data(http.StatusOK, "application/zip", data)
}

// Generate renders a bundle for a stored website or an inline config.
// ?format=zip returns the bundle as an archive.
func (dc *DeployController) Generate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var site deploy.SiteConfig
	switch {
	case req.WebsiteID != "":
		if !validUUID(req.WebsiteID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid website_id"})
			return
		}
		if site, ok = dc.siteForWebsite(c, user, req.WebsiteID); !ok {
			return
		}
	case req.Config != nil:
		clubID, ok := targetClub(user, req.ClubID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "club_id is required"})
			return
		}
		var club models.Club
		if err := dc.DB.Where("id = ?", clubID).First(&club).Error; err != nil {
			respondDBError(c, err, "club")
			return
		}
		site = *req.Config
		site.ClubID = club.ID
		site.ClubName = club.Name
		site.ClubSlug = club.Slug
		site.WebsiteID = ""
		site.APIBaseURL = dc.APIBaseURL
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "website_id or config is required"})
		return
	}

	dc.writeBundle(c, site, strings.EqualFold(c.Query("format"), "zip"))
}

// Bundle downloads the zip bundle of a stored website.
func (dc *DeployController) Bundle(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "websiteId")
	if !ok {
		return
	}
	site, ok := dc.siteForWebsite(c, user, id)
	if !ok {
		return
	}
	dc.writeBundle(c, site, true)
}

type deployRequest struct {
	WebsiteID string `json:"website_id" binding:"required,uuid"`
}

// Deploy queues a deployment job for a website.
func (dc *DeployController) Deploy(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	site, ok := dc.siteForWebsite(c, user, req.WebsiteID)
	if !ok {
		return
	}
	site.Normalize()
	if err := site.Validate(); err != nil {
		respondValidation(c, err)
		return
	}

	var w models.Website
	if err := dc.DB.Where("id = ?", req.WebsiteID).First(&w).Error; err != nil {
		respondDBError(c, err, "website")
		return
	}
	job, err := dc.Runner.EnqueueDeployment(c.Request.Context(), w, user.ID)
	if err != nil {
		if errors.Is(err, jobs.ErrActiveDeployment) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"website_id": w.ID,
		"status_url": "/api/v1/admin/deploy/status/" + job.ID,
	})
}

// Status reports a deployment job with the tail of its log.
func (dc *DeployController) Status(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "jobId")
	if !ok {
		return
	}
	job, ok := findJob(c, dc.Runner, user, id)
	if !ok {
		return
	}
	lines := 50
	if v := c.Query("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			lines = n
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":      job.ID,
		"type":        job.Type,
		"website_id":  job.WebsiteID,
		"status":      job.Status,
		"progress":    job.Progress,
		"url":         job.ResultURL,
		"external_id": job.ExternalID,
		"error":       job.Error,
		"attempts":    job.Attempts,
		"started_at":  job.StartedAt,
		"finished_at": job.FinishedAt,
		"done":        job.Terminal(),
		"log":         logTail(job.Log, lines),
	})
}

func logTail(log string, n int) []string {
	log = strings.TrimRight(log, "\n")
	if log == "" {
		return []string{}
	}
	lines := strings.Split(log, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
