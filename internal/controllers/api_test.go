package controllers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/billing"
	"github.com/zaqqye/clubhub_backend/internal/config"
	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/jobs"
	"github.com/zaqqye/clubhub_backend/internal/mailer"
	"github.com/zaqqye/clubhub_backend/internal/middleware"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/routes"
	"github.com/zaqqye/clubhub_backend/internal/storage"
	"github.com/zaqqye/clubhub_backend/internal/testutil"
)

type testAPI struct {
	t      *testing.T
	r      *gin.Engine
	db     *gorm.DB
	mail   *mailer.LogMailer
	store  *storage.LocalStorage
	club   models.Club
	super  models.User
	admin  models.User
	member models.User
}

func newAPI(t *testing.T) *testAPI {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop()
	cfg := &config.Config{
		PublicBaseURL:         "http://api.test",
		CORSOrigins:           []string{"http://localhost:3000"},
		JWTSecret:             testutil.JWTSecret,
		RefreshJWTSecret:      testutil.JWTSecret + "-refresh",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   30,
		SessionCookieName:     testutil.CookieName,
		RateLimitRPS:          1000,
		RateLimitBurst:        1000,
		LatestTemplateVersion: "1.2.0",
		SiteImage:             "ghcr.io/clubhub/club-site:latest",
	}

	mail := mailer.NewLogMailer(log)
	store := storage.NewLocalStorage(t.TempDir(), "http://api.test/media")
	notifier := &notify.Service{DB: db, Mailer: mail, Log: log}
	runner := jobs.NewRunner(db, log, nil, jobs.Options{Workers: 1})
	generator := deploy.NewGenerator(cfg.SiteImage)
	runner.Register(models.JobDeployment, &jobs.DeploymentHandler{
		DB:         db,
		Generator:  generator,
		Deployers:  deploy.NewDefaultRegistry(deploy.Credentials{}, store),
		Notify:     notifier,
		APIBaseURL: cfg.PublicBaseURL,
		Log:        log,
	})
	runner.Register(models.JobBackup, &jobs.BackupHandler{DB: db, Store: store, Notify: notifier, APIBaseURL: cfg.PublicBaseURL})

	r := routes.NewEngine(cfg, log)
	routes.Register(r, routes.Deps{
		DB:                    db,
		Cfg:                   cfg,
		Log:                   log,
		Store:                 store,
		Runner:                runner,
		Generator:             generator,
		Notify:                notifier,
		Billing:               billing.NewService(db, notifier, log),
		Limiter:               middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log),
		LatestTemplateVersion: func() string { return cfg.LatestTemplateVersion },
	})

	club := testutil.CreateClub(t, db, "Miata Owners")
	return &testAPI{
		t:      t,
		r:      r,
		db:     db,
		mail:   mail,
		store:  store,
		club:   club,
		super:  testutil.CreateUser(t, db, "root@clubhub.test", models.RoleSuperAdmin, nil),
		admin:  testutil.CreateUser(t, db, "admin@miata.test", models.RoleAdmin, &club.ID),
		member: testutil.CreateUser(t, db, "member@miata.test", models.RoleMember, &club.ID),
	}
}

// do sends body as JSON (or raw when it is an io.Reader) as user.
func (a *testAPI) do(method, path string, user *models.User, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		rdr = b
	default:
		data, err := json.Marshal(b)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", testutil.Bearer(a.t, *user))
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

// upload posts a multipart form with one file part named "file".
func (a *testAPI) upload(path string, user *models.User, fields map[string]string, filename string, content []byte) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(a.t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(a.t, err)
	_, err = part.Write(content)
	require.NoError(a.t, err)
	require.NoError(a.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != nil {
		req.Header.Set("Authorization", testutil.Bearer(a.t, *user))
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	w := a.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestRoleGates(t *testing.T) {
	a := newAPI(t)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/v1/admin/users", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/api/v1/admin/users", &a.member, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/v1/admin/users", &a.admin, nil).Code)

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/api/v1/admin/clubs", &a.admin, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/v1/admin/clubs", &a.super, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/v1/admin/settings", &a.super, nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

// otherClubAdmin returns the admin of a second club.
func (a *testAPI) otherClubAdmin() models.User {
	a.t.Helper()
	club := testutil.CreateClub(a.t, a.db, "Other Club")
	return testutil.CreateUser(a.t, a.db, "admin@other.test", models.RoleAdmin, &club.ID)
}
