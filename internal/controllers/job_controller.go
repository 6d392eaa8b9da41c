package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/jobs"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/storage"
)

type JobController struct {
	DB     *gorm.DB
	Runner *jobs.Runner
	Store  storage.Storage
}

var jobStatuses = map[string]struct{}{
	models.JobQueued:    {},
	models.JobRunning:   {},
	models.JobSucceeded: {},
	models.JobFailed:    {},
	models.JobCancelled: {},
}

var jobTypes = map[string]struct{}{
	models.JobDeployment:  {},
	models.JobBackup:      {},
	models.JobUpdateCheck: {},
}

// findJob loads a job visible to user, answering 404 otherwise.
func findJob(c *gin.Context, runner *jobs.Runner, user models.User, id string) (models.Job, bool) {
	job, err := runner.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return job, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return job, false
	}
	if !canAccessClub(user, job.ClubID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return models.Job{}, false
	}
	return job, true
}

func respondJobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, jobs.ErrNotCancellable), errors.Is(err, jobs.ErrNotRetryable), errors.Is(err, jobs.ErrActiveDeployment):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (jc *JobController) ListJobs(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	p := parseListParams(c, 20, map[string]string{
		"created_at":  "created_at",
		"status":      "status",
		"type":        "type",
		"finished_at": "finished_at",
	}, "created_at")

	base := scopeClub(c, jc.DB.Model(&models.Job{}), user, "club_id")
	jobType := strings.TrimSpace(strings.ToLower(c.Query("type")))
	if jobType != "" {
		if _, ok := jobTypes[jobType]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
			return
		}
		base = base.Where("type = ?", jobType)
	}
	status := strings.TrimSpace(strings.ToLower(c.Query("status")))
	if status != "" {
		if _, ok := jobStatuses[status]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		base = base.Where("status = ?", status)
	}
	websiteID := strings.TrimSpace(c.Query("website_id"))
	if websiteID != "" {
		base = base.Where("website_id = ?", websiteID)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var list []models.Job
	if err := p.paginate(base).Find(&list).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	meta := p.meta(total)
	if jobType != "" {
		meta["type"] = jobType
	}
	if status != "" {
		meta["status"] = status
	}
	if websiteID != "" {
		meta["website_id"] = websiteID
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "meta": meta})
}

func (jc *JobController) GetJob(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	job, ok := findJob(c, jc.Runner, user, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "log": logTail(job.Log, 200)})
}

// Artifact downloads the file a succeeded job stored: a backup or a manual
// deployment bundle.
func (jc *JobController) Artifact(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	job, ok := findJob(c, jc.Runner, user, id)
	if !ok {
		return
	}
	key, ok := jobs.Artifact(job)
	if !ok || job.Status != models.JobSucceeded || jc.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	rc, err := jc.Store.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rc.Close()

	contentType := "application/octet-stream"
	switch path.Ext(key) {
	case ".zip":
		contentType = "application/zip"
	case ".gz":
		contentType = "application/gzip"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, path.Base(key)),
	})
}

func (jc *JobController) CancelJob(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if _, ok := findJob(c, jc.Runner, user, id); !ok {
		return
	}
	job, err := jc.Runner.Cancel(c.Request.Context(), id)
	if err != nil {
		respondJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (jc *JobController) RetryJob(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if _, ok := findJob(c, jc.Runner, user, id); !ok {
		return
	}
	job, err := jc.Runner.Retry(c.Request.Context(), id)
	if err != nil {
		respondJobError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

type maintenanceRequest struct {
	ClubID string `json:"club_id"`
}

func (jc *JobController) maintenanceClub(c *gin.Context, user models.User) (string, bool) {
	var req maintenanceRequest
	if !bindOptionalJSON(c, &req) {
		return "", false
	}
	clubID, ok := targetClub(user, req.ClubID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "club_id is required"})
		return "", false
	}
	if err := jc.DB.Where("id = ?", clubID).First(&models.Club{}).Error; err != nil {
		respondDBError(c, err, "club")
		return "", false
	}
	return clubID, true
}

// Backup queues a backup of the caller's club. An already pending backup
// is returned instead of a new one.
func (jc *JobController) Backup(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	clubID, ok := jc.maintenanceClub(c, user)
	if !ok {
		return
	}
	job, created, err := jc.Runner.EnqueueBackup(c.Request.Context(), clubID, &user.ID)
	if err != nil {
		respondJobError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job, "created": created})
}

// UpdateCheck queues a template update check for each website of the club.
func (jc *JobController) UpdateCheck(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	clubID, ok := jc.maintenanceClub(c, user)
	if !ok {
		return
	}
	n, err := jc.Runner.EnqueueUpdateChecks(c.Request.Context(), clubID, &user.ID)
	if err != nil {
		respondJobError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": n})
}
