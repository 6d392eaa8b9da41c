package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
)

type DeploymentPayload struct {
	WebsiteID string `json:"website_id"`
}

// EnqueueDeployment queues a deployment of website and marks it deploying.
// A website has at most one queued or running deployment.
func (r *Runner) EnqueueDeployment(ctx context.Context, website models.Website, createdBy string) (models.Job, error) {
	payload, _ := json.Marshal(DeploymentPayload{WebsiteID: website.ID})
	job := models.Job{
		ClubID:    website.ClubID,
		WebsiteID: &website.ID,
		Type:      models.JobDeployment,
		Payload:   datatypes.JSON(payload),
	}
	if createdBy != "" {
		job.CreatedBy = &createdBy
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNoActiveDeployment(tx, website.ID, ""); err != nil {
			return err
		}
		if err := enqueueTx(tx, &job); err != nil {
			return err
		}
		return tx.Model(&models.Website{}).Where("id = ?", website.ID).
			Update("status", models.WebsiteDeploying).Error
	})
	if err != nil {
		return job, err
	}
	r.enqueued(job)
	return job, nil
}

// ensureNoActiveDeployment locks the website row, then checks for other
// queued or running deployments of it. Callers must run inside tx.
func ensureNoActiveDeployment(tx *gorm.DB, websiteID, exceptJobID string) error {
	var locked models.Website
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").
		Where("id = ?", websiteID).First(&locked).Error; err != nil {
		return fmt.Errorf("failed to lock website: %w", err)
	}
	q := tx.Model(&models.Job{}).
		Where("website_id = ? AND type = ? AND status IN ?", websiteID, models.JobDeployment,
			[]string{models.JobQueued, models.JobRunning})
	if exceptJobID != "" {
		q = q.Where("id <> ?", exceptJobID)
	}
	var active int64
	if err := q.Count(&active).Error; err != nil {
		return err
	}
	if active > 0 {
		return ErrActiveDeployment
	}
	return nil
}

// DeploymentHandler generates the website bundle, hands it to the hosting
// provider and polls until the provider reports a final state.
type DeploymentHandler struct {
	DB           *gorm.DB
	Generator    *deploy.Generator
	Deployers    *deploy.Registry
	Notify       *notify.Service
	APIBaseURL   string
	PollInterval time.Duration
	Log          *zap.Logger
}

func (h *DeploymentHandler) Run(ctx context.Context, job *models.Job, rep Reporter) (out Outcome, err error) {
	if job.WebsiteID == nil {
		return out, errors.New("deployment job has no website")
	}
	var website models.Website
	if err := h.DB.WithContext(ctx).First(&website, "id = ?", *job.WebsiteID).Error; err != nil {
		return out, fmt.Errorf("failed to load website: %w", err)
	}
	var club models.Club
	if err := h.DB.WithContext(ctx).First(&club, "id = ?", website.ClubID).Error; err != nil {
		return out, fmt.Errorf("failed to load club: %w", err)
	}

	defer func() {
		if err != nil {
			h.fail(ctx, website, err)
		}
	}()

	if err := h.setStatus(ctx, website.ID, map[string]any{"status": models.WebsiteDeploying}); err != nil {
		return out, err
	}

	site := deploy.SiteFromWebsite(club, website, h.APIBaseURL, h.Generator.Image)
	bundle, err := h.Generator.Generate(site)
	if err != nil {
		return out, err
	}
	rep.Progress(15, fmt.Sprintf("generated %d files for %s", len(bundle.Files), bundle.Site.Hosting))

	deployer, err := h.Deployers.For(bundle.Site.Hosting)
	if err != nil {
		return out, err
	}
	res, err := deployer.Deploy(ctx, deploy.Target{Site: bundle.Site, Bundle: bundle, ProviderTarget: website.ProviderTarget})
	if err != nil {
		return out, err
	}
	rep.SetExternalID(res.ExternalID)
	rep.Progress(40, fmt.Sprintf("%s accepted deployment %s", deployer.Name(), res.ExternalID))

	progress := 40
	for !res.State.Done() {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(h.pollInterval()):
		}
		next, err := deployer.Status(ctx, res.ExternalID)
		if err != nil {
			return out, err
		}
		if next.URL == "" {
			next.URL = res.URL
		}
		if next.State != res.State {
			rep.Logf("provider state: %s", next.State)
		}
		res = next
		if progress < 90 {
			progress += 5
		}
		rep.Progress(progress, "")
	}
	// a custom domain outranks the provider's deployment host
	if bundle.Site.Domain != "" && !res.Manual {
		res.URL = bundle.Site.SiteURL()
	}

	switch res.State {
	case deploy.StateError:
		msg := res.Message
		if msg == "" {
			msg = "build failed"
		}
		return out, fmt.Errorf("%s reported an error: %s", deployer.Name(), msg)
	case deploy.StateCanceled:
		return out, fmt.Errorf("%s cancelled the deployment", deployer.Name())
	}

	result := map[string]any{
		"external_id": res.ExternalID,
		"url":         res.URL,
		"manual":      res.Manual,
		"files":       len(bundle.Files),
		"hosting":     bundle.Site.Hosting,
	}
	if res.Manual {
		// the stored bundle holds the site config, so it is downloaded through the API
		res.URL = ArtifactURL(h.APIBaseURL, job.ID)
		result["url"] = res.URL
		result[ArtifactKey] = res.ExternalID
	}
	h.succeed(ctx, club, website, res)
	return Outcome{ResultURL: res.URL, Result: result}, nil
}

func (h *DeploymentHandler) pollInterval() time.Duration {
	if h.PollInterval <= 0 {
		return 5 * time.Second
	}
	return h.PollInterval
}

func (h *DeploymentHandler) setStatus(ctx context.Context, websiteID string, updates map[string]any) error {
	return h.DB.WithContext(ctx).Model(&models.Website{}).Where("id = ?", websiteID).Updates(updates).Error
}

func (h *DeploymentHandler) succeed(ctx context.Context, club models.Club, website models.Website, res deploy.Result) {
	msg := notify.Message{
		Kind:  models.NotifyDeploymentSucceeded,
		Title: fmt.Sprintf("%s is live", website.Name),
		Body:  fmt.Sprintf("Deployment finished: %s", res.URL),
		Link:  res.URL,
	}
	if res.Manual {
		// The club deploys the bundle itself; the site is not live yet.
		if err := h.setStatus(ctx, website.ID, map[string]any{"status": restoredStatus(website)}); err != nil {
			h.logger().Warn("failed to update website", zap.String("website_id", website.ID), zap.Error(err))
		}
		msg.Title = fmt.Sprintf("Deployment bundle for %s is ready", website.Name)
		msg.Body = "Download the bundle and follow DEPLOY.md to publish the site."
	} else {
		now := time.Now()
		err := h.setStatus(ctx, website.ID, map[string]any{
			"status":           models.WebsiteLive,
			"live_url":         res.URL,
			"last_deployed_at": now,
		})
		if err != nil {
			h.logger().Warn("failed to update website", zap.String("website_id", website.ID), zap.Error(err))
		}
	}
	h.notify(ctx, club.ID, msg)
}

func (h *DeploymentHandler) fail(ctx context.Context, website models.Website, runErr error) {
	ctx = context.WithoutCancel(ctx)
	if errors.Is(runErr, context.Canceled) {
		if err := h.setStatus(ctx, website.ID, map[string]any{"status": restoredStatus(website)}); err != nil {
			h.logger().Warn("failed to restore website status", zap.String("website_id", website.ID), zap.Error(err))
		}
		return
	}
	if err := h.setStatus(ctx, website.ID, map[string]any{"status": models.WebsiteFailed}); err != nil {
		h.logger().Warn("failed to mark website failed", zap.String("website_id", website.ID), zap.Error(err))
	}
	h.notify(ctx, website.ClubID, notify.Message{
		Kind:  models.NotifyDeploymentFailed,
		Title: fmt.Sprintf("Deployment of %s failed", website.Name),
		Body:  runErr.Error(),
		Link:  "/websites/" + website.ID,
	})
}

func (h *DeploymentHandler) notify(ctx context.Context, clubID string, msg notify.Message) {
	if h.Notify == nil {
		return
	}
	if _, err := h.Notify.ClubAdmins(ctx, clubID, msg); err != nil {
		h.logger().Warn("failed to notify club", zap.String("club_id", clubID), zap.Error(err))
	}
}

func (h *DeploymentHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// AfterCancel resets a website whose queued deployment was cancelled.
func (h *DeploymentHandler) AfterCancel(ctx context.Context, job models.Job) {
	if job.WebsiteID == nil {
		return
	}
	var website models.Website
	if err := h.DB.WithContext(ctx).First(&website, "id = ?", *job.WebsiteID).Error; err != nil {
		return
	}
	if err := h.setStatus(ctx, website.ID, map[string]any{"status": restoredStatus(website)}); err != nil {
		h.logger().Warn("failed to restore website status", zap.String("website_id", website.ID), zap.Error(err))
	}
}

// BeforeRetry refuses a retry while another deployment of the website is active.
func (h *DeploymentHandler) BeforeRetry(ctx context.Context, tx *gorm.DB, job models.Job) error {
	if job.WebsiteID == nil {
		return nil
	}
	if err := ensureNoActiveDeployment(tx, *job.WebsiteID, job.ID); err != nil {
		return err
	}
	return tx.Model(&models.Website{}).Where("id = ?", *job.WebsiteID).
		Update("status", models.WebsiteDeploying).Error
}

// restoredStatus is the status a website returns to when a deployment does not complete.
func restoredStatus(w models.Website) string {
	if w.LiveURL != "" {
		return models.WebsiteLive
	}
	return models.WebsiteDraft
}
