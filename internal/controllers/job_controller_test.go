package controllers_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

func TestCancelAndRetryDeployment(t *testing.T) {
	a := newAPI(t)
	site := a.createWebsite(map[string]any{"name": "Cancel Me", "hosting_provider": "docker"})
	id := site["id"].(string)

	w := a.do(http.MethodPost, "/api/v1/admin/deploy", &a.admin, map[string]any{"website_id": id})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["job_id"].(string)

	w = a.do(http.MethodPost, "/api/v1/admin/jobs/"+jobID+"/cancel", &a.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.JobCancelled, decode(t, w)["status"])

	var website models.Website
	require.NoError(t, a.db.First(&website, "id = ?", id).Error)
	assert.Equal(t, models.WebsiteDraft, website.Status)

	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/api/v1/admin/jobs/"+jobID+"/cancel", &a.admin, nil).Code)

	w = a.do(http.MethodPost, "/api/v1/admin/jobs/"+jobID+"/retry", &a.admin, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, models.JobQueued, decode(t, w)["status"])
	require.NoError(t, a.db.First(&website, "id = ?", id).Error)
	assert.Equal(t, models.WebsiteDeploying, website.Status)

	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/api/v1/admin/jobs/"+jobID+"/retry", &a.admin, nil).Code)
}

func TestListJobsFilters(t *testing.T) {
	a := newAPI(t)
	site := a.createWebsite(map[string]any{"name": "Listed", "hosting_provider": "docker"})
	require.Equal(t, http.StatusAccepted, a.do(http.MethodPost, "/api/v1/admin/deploy", &a.admin, map[string]any{"website_id": site["id"]}).Code)
	require.Equal(t, http.StatusAccepted, a.do(http.MethodPost, "/api/v1/admin/jobs/backup", &a.admin, nil).Code)

	w := a.do(http.MethodGet, "/api/v1/admin/jobs", &a.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 2)

	w = a.do(http.MethodGet, "/api/v1/admin/jobs?type=backup", &a.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/v1/admin/jobs?status=exploded", &a.admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/v1/admin/jobs?type=nope", &a.admin, nil).Code)

	other := a.otherClubAdmin()
	w = a.do(http.MethodGet, "/api/v1/admin/jobs", &other, nil)
	assert.Len(t, decode(t, w)["data"], 0)
}

func TestBackupIsDeduplicated(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodPost, "/api/v1/admin/jobs/backup", &a.admin, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, true, first["created"])

	w = a.do(http.MethodPost, "/api/v1/admin/jobs/backup", &a.admin, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	second := decode(t, w)
	assert.Equal(t, false, second["created"])
	assert.Equal(t, first["job"].(map[string]any)["id"], second["job"].(map[string]any)["id"])

	// superadmins name the club explicitly
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/v1/admin/jobs/backup", &a.super, nil).Code)
}

func TestBackupRejectsMalformedBody(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodPost, "/api/v1/admin/jobs/backup", &a.super, strings.NewReader(`{"club_id":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(http.MethodPost, "/api/v1/admin/jobs/backup", &a.admin, strings.NewReader(`["club"]`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	require.NoError(t, a.db.Model(&models.Job{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpdateCheckQueuesPerWebsite(t *testing.T) {
	a := newAPI(t)
	a.createWebsite(map[string]any{"name": "One", "hosting_provider": "docker"})
	a.createWebsite(map[string]any{"name": "Two", "hosting_provider": "fly"})

	w := a.do(http.MethodPost, "/api/v1/admin/jobs/update-check", &a.admin, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode(t, w)["queued"])
}

func TestGetJobUnknown(t *testing.T) {
	a := newAPI(t)
	w := a.do(http.MethodGet, "/api/v1/admin/jobs/00000000-0000-0000-0000-000000000000", &a.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
