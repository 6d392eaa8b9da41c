package jobs_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/jobs"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/storage"
	"github.com/zaqqye/clubhub_backend/internal/testutil"
)

type fakeReporter struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeReporter) Progress(_ int, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg != "" {
		f.lines = append(f.lines, msg)
	}
}

func (f *fakeReporter) Logf(string, ...any)  {}
func (f *fakeReporter) SetExternalID(string) {}

func createWebsite(t *testing.T, db *gorm.DB, clubID, slug, hosting, database string) models.Website {
	t.Helper()
	w := models.Website{
		ClubID:           clubID,
		Name:             "Site " + slug,
		Slug:             slug,
		HostingProvider:  hosting,
		DatabaseProvider: database,
		TemplateVersion:  "1.0.0",
	}
	require.NoError(t, db.Create(&w).Error)
	return w
}

func notificationKinds(t *testing.T, db *gorm.DB, clubID string) []string {
	t.Helper()
	var kinds []string
	require.NoError(t, db.Model(&models.Notification{}).Where("club_id = ?", clubID).Order("created_at").Pluck("kind", &kinds).Error)
	return kinds
}

type deployEnv struct {
	db     *gorm.DB
	runner *jobs.Runner
	store  *storage.LocalStorage
	club   models.Club
	admin  models.User
}

func newDeployEnv(t *testing.T, registry func(storage.Storage) *deploy.Registry) deployEnv {
	t.Helper()
	db := testutil.NewDB(t)
	club := testutil.CreateClub(t, db, "Torque Club")
	admin := testutil.CreateUser(t, db, "admin@torque.example", models.RoleAdmin, &club.ID)
	store := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/media")

	r := newRunner(db, nil, jobs.Options{Workers: 1, Timeout: 5 * time.Second})
	r.Register(models.JobDeployment, &jobs.DeploymentHandler{
		DB:           db,
		Generator:    deploy.NewGenerator("ghcr.io/clubhub/club-site:latest"),
		Deployers:    registry(store),
		Notify:       &notify.Service{DB: db},
		APIBaseURL:   "http://localhost:8080",
		PollInterval: 10 * time.Millisecond,
		Log:          zap.NewNop(),
	})
	return deployEnv{db: db, runner: r, store: store, club: club, admin: admin}
}

func TestEnqueueDeploymentRejectsSecondActive(t *testing.T) {
	env := newDeployEnv(t, func(s storage.Storage) *deploy.Registry { return deploy.NewDefaultRegistry(deploy.Credentials{}, s) })
	website := createWebsite(t, env.db, env.club.ID, "torque", deploy.HostDocker, deploy.DBPostgres)
	ctx := context.Background()

	job, err := env.runner.EnqueueDeployment(ctx, website, env.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, env.admin.ID, *job.CreatedBy)

	var reloaded models.Website
	require.NoError(t, env.db.First(&reloaded, "id = ?", website.ID).Error)
	assert.Equal(t, models.WebsiteDeploying, reloaded.Status)

	_, err = env.runner.EnqueueDeployment(ctx, website, env.admin.ID)
	assert.ErrorIs(t, err, jobs.ErrActiveDeployment)

	_, err = env.runner.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.First(&reloaded, "id = ?", website.ID).Error)
	assert.Equal(t, models.WebsiteDraft, reloaded.Status)

	retried, err := env.runner.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, retried.Status)
	require.NoError(t, env.db.First(&reloaded, "id = ?", website.ID).Error)
	assert.Equal(t, models.WebsiteDeploying, reloaded.Status)
}

func TestManualDeploymentStoresBundle(t *testing.T) {
	env := newDeployEnv(t, func(s storage.Storage) *deploy.Registry { return deploy.NewDefaultRegistry(deploy.Credentials{}, s) })
	website := createWebsite(t, env.db, env.club.ID, "torque", deploy.HostDocker, deploy.DBPostgres)
	start(t, env.runner)

	job, err := env.runner.EnqueueDeployment(context.Background(), website, env.admin.ID)
	require.NoError(t, err)
	done := waitForStatus(t, env.db, job.ID, models.JobSucceeded)

	assert.Equal(t, jobs.ArtifactURL("http://localhost:8080", job.ID), done.ResultURL)
	key, ok := jobs.Artifact(done)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(key, "bundles/"+env.club.ID+"/"+website.ID+"/"), key)
	rc, err := env.store.Open(context.Background(), key)
	require.NoError(t, err)
	rc.Close()
	assert.Contains(t, done.Log, "generated 5 files for docker")

	var reloaded models.Website
	require.NoError(t, env.db.First(&reloaded, "id = ?", website.ID).Error)
	assert.Equal(t, models.WebsiteDraft, reloaded.Status)
	assert.Equal(t, []string{models.NotifyDeploymentSucceeded}, notificationKinds(t, env.db, env.club.ID))
}

func TestAPIDeploymentGoesLive(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"id":"dpl_1","url":"torque-abc.vercel.app","readyState":"BUILDING"}`))
			return
		}
		if polls.Add(1) < 2 {
			w.Write([]byte(`{"id":"dpl_1","url":"torque-abc.vercel.app","readyState":"BUILDING"}`))
			return
		}
		w.Write([]byte(`{"id":"dpl_1","url":"torque-abc.vercel.app","readyState":"READY"}`))
	}))
	defer srv.Close()

	env := newDeployEnv(t, func(s storage.Storage) *deploy.Registry {
		return deploy.NewDefaultRegistry(deploy.Credentials{VercelToken: "tok", VercelURL: srv.URL}, s)
	})
	website := createWebsite(t, env.db, env.club.ID, "torque", deploy.HostVercel, deploy.DBNeon)
	start(t, env.runner)

	job, err := env.runner.EnqueueDeployment(context.Background(), website, env.admin.ID)
	require.NoError(t, err)
	done := waitForStatus(t, env.db, job.ID, models.JobSucceeded)
	assert.Equal(t, "dpl_1", done.ExternalID)
	assert.Equal(t, "https://torque-abc.vercel.app", done.ResultURL)

	var reloaded models.Website
	require.NoError(t, env.db.First(&reloaded, "id = ?", website.ID).Error)
	assert.Equal(t, models.WebsiteLive, reloaded.Status)
	assert.Equal(t, "https://torque-abc.vercel.app", reloaded.LiveURL)
	assert.NotNil(t, reloaded.LastDeployedAt)
}

func TestAPIDeploymentKeepsCustomDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"id":"dpl_2","url":"torque-abc.vercel.app","readyState":"BUILDING"}`))
			return
		}
		w.Write([]byte(`{"id":"dpl_2","url":"torque-abc.vercel.app","alias":["torque-club.vercel.app"],"readyState":"READY"}`))
	}))
	defer srv.Close()

	env := newDeployEnv(t, func(s storage.Storage) *deploy.Registry {
		return deploy.NewDefaultRegistry(deploy.Credentials{VercelToken: "tok", VercelURL: srv.URL}, s)
	})
	website := createWebsite(t, env.db, env.club.ID, "torque", deploy.HostVercel, deploy.DBNone)
	require.NoError(t, env.db.Model(&website).Update("domain", "torque.example.com").Error)
	website.Domain = "torque.example.com"
	start(t, env.runner)

	job, err := env.runner.EnqueueDeployment(context.Background(), website, env.admin.ID)
	require.NoError(t, err)
	done := waitForStatus(t, env.db, job.ID, models.JobSucceeded)
	assert.Equal(t, "https://torque.example.com", done.ResultURL)

	var reloaded models.Website
	require.NoError(t, env.db.First(&reloaded, "id = ?", website.ID).Error)
	assert.Equal(t, "https://torque.example.com", reloaded.LiveURL)
}

func TestDeploymentFailureMarksWebsite(t *testing.T) {
	env := newDeployEnv(t, func(s storage.Storage) *deploy.Registry { return deploy.NewDefaultRegistry(deploy.Credentials{}, s) })
	website := createWebsite(t, env.db, env.club.ID, "torque", deploy.HostVercel, deploy.DBNone)
	start(t, env.runner)

	job, err := env.runner.EnqueueDeployment(context.Background(), website, env.admin.ID)
	require.NoError(t, err)
	failed := waitForStatus(t, env.db, job.ID, models.JobFailed)
	assert.Contains(t, failed.Error, deploy.ErrMissingCredentials.Error())

	var reloaded models.Website
	require.NoError(t, env.db.First(&reloaded, "id = ?", website.ID).Error)
	assert.Equal(t, models.WebsiteFailed, reloaded.Status)
	assert.Equal(t, []string{models.NotifyDeploymentFailed}, notificationKinds(t, env.db, env.club.ID))
}

func TestBackupHandler(t *testing.T) {
	db := testutil.NewDB(t)
	club := testutil.CreateClub(t, db, "Torque Club")
	testutil.CreateUser(t, db, "admin@torque.example", models.RoleAdmin, &club.ID)
	testutil.CreateUser(t, db, "member@torque.example", models.RoleMember, &club.ID)
	website := createWebsite(t, db, club.ID, "torque", deploy.HostDocker, deploy.DBNone)
	require.NoError(t, db.Model(&website).Update("env_vars", datatypes.NewJSONType(map[string]string{
		"STRIPE_SECRET_KEY": "sk_live_123",
		"THEME":             "dark",
	})).Error)
	store := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/media")

	h := &jobs.BackupHandler{
		DB:         db,
		Store:      store,
		Notify:     &notify.Service{DB: db},
		APIBaseURL: "http://localhost:8080/",
		Now:        func() time.Time { return time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC) },
	}
	job := &models.Job{ID: "6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f", ClubID: club.ID, Type: models.JobBackup}
	out, err := h.Run(context.Background(), job, &fakeReporter{})
	require.NoError(t, err)

	key := "backups/" + club.ID + "/20240501T030000Z.json.gz"
	assert.Equal(t, "http://localhost:8080/api/v1/admin/jobs/"+job.ID+"/artifact", out.ResultURL)
	assert.Equal(t, key, out.Result.(map[string]any)[jobs.ArtifactKey])

	rc, err := store.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	zr, err := gzip.NewReader(rc)
	require.NoError(t, err)
	var doc jobs.BackupDocument
	require.NoError(t, json.NewDecoder(zr).Decode(&doc))
	assert.Equal(t, club.ID, doc.Club.ID)
	assert.Len(t, doc.Members, 2)
	require.Len(t, doc.Websites, 1)
	assert.Equal(t, map[string]string{
		"STRIPE_SECRET_KEY": deploy.SecretMask,
		"THEME":             "dark",
	}, doc.Websites[0].EnvVars.Data())
	assert.Equal(t, []string{models.NotifyBackupCompleted}, notificationKinds(t, db, club.ID))

	// the live row keeps its secret
	var stored models.Website
	require.NoError(t, db.First(&stored, "id = ?", website.ID).Error)
	assert.Equal(t, "sk_live_123", stored.EnvVars.Data()["STRIPE_SECRET_KEY"])
}

func TestUpdateCheckNotifiesOncePerVersion(t *testing.T) {
	db := testutil.NewDB(t)
	club := testutil.CreateClub(t, db, "Torque Club")
	website := createWebsite(t, db, club.ID, "torque", deploy.HostDocker, deploy.DBNone)
	require.NoError(t, db.Create(&models.AppSetting{Key: "latest_template_version", Value: "1.2.0"}).Error)

	h := &jobs.UpdateCheckHandler{
		DB:     db,
		Notify: &notify.Service{DB: db},
		Latest: jobs.LatestTemplateVersion(db, "1.0.0"),
	}
	job := &models.Job{ClubID: club.ID, WebsiteID: &website.ID, Type: models.JobUpdateCheck}

	out, err := h.Run(context.Background(), job, &fakeReporter{})
	require.NoError(t, err)
	result := out.Result.(map[string]any)
	assert.Equal(t, true, result["outdated"])
	assert.Equal(t, "1.2.0", result["latest"])

	_, err = h.Run(context.Background(), job, &fakeReporter{})
	require.NoError(t, err)
	assert.Equal(t, []string{models.NotifyUpdateAvailable}, notificationKinds(t, db, club.ID))

	require.NoError(t, db.Model(&website).Update("template_version", "1.2.0").Error)
	out, err = h.Run(context.Background(), job, &fakeReporter{})
	require.NoError(t, err)
	assert.Equal(t, false, out.Result.(map[string]any)["outdated"])
}

func TestEnqueueUpdateChecks(t *testing.T) {
	db := testutil.NewDB(t)
	club := testutil.CreateClub(t, db, "Torque Club")
	other := testutil.CreateClub(t, db, "Boost Club")
	createWebsite(t, db, club.ID, "torque", deploy.HostDocker, deploy.DBNone)
	createWebsite(t, db, other.ID, "boost", deploy.HostFly, deploy.DBNone)

	r := newRunner(db, nil, jobs.Options{})
	n, err := r.EnqueueUpdateChecks(context.Background(), club.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.EnqueueUpdateChecks(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
