// Package jobs runs queued background work (deployments, backups, update
// checks) on a pool of workers backed by the jobs table.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/metrics"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrNotCancellable   = errors.New("only queued or running jobs can be cancelled")
	ErrNotRetryable     = errors.New("only failed or cancelled jobs can be retried")
	ErrActiveDeployment = errors.New("website already has an active deployment")
)

const maxLogBytes = 64 << 10

// Reporter lets a handler record progress on its job.
type Reporter interface {
	Progress(pct int, msg string)
	Logf(format string, args ...any)
	SetExternalID(id string)
}

// Outcome is what a successful handler leaves on the job.
type Outcome struct {
	ResultURL string
	Result    any
}

type Handler interface {
	Run(ctx context.Context, job *models.Job, rep Reporter) (Outcome, error)
}

type HandlerFunc func(ctx context.Context, job *models.Job, rep Reporter) (Outcome, error)

func (f HandlerFunc) Run(ctx context.Context, job *models.Job, rep Reporter) (Outcome, error) {
	return f(ctx, job, rep)
}

// CancelHook is implemented by handlers that must clean up when a queued job
// is cancelled before it ever ran.
type CancelHook interface {
	AfterCancel(ctx context.Context, job models.Job)
}

// RetryHook is implemented by handlers that must validate or prepare a retry.
type RetryHook interface {
	BeforeRetry(ctx context.Context, tx *gorm.DB, job models.Job) error
}

// Publisher receives every job state change.
type Publisher interface {
	PublishJob(job models.Job)
}

type Options struct {
	Workers      int
	PollInterval time.Duration
	Timeout      time.Duration
}

type Runner struct {
	db       *gorm.DB
	log      *zap.Logger
	pub      Publisher
	opts     Options
	handlers map[string]Handler
	// running maps job id to the cancel func of its context.
	running sync.Map
	wake    chan struct{}
}

func NewRunner(db *gorm.DB, log *zap.Logger, pub Publisher, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Minute
	}
	return &Runner{
		db:       db,
		log:      log.Named("jobs"),
		pub:      pub,
		opts:     opts,
		handlers: map[string]Handler{},
		wake:     make(chan struct{}, 1),
	}
}

// Register binds a handler to a job type. It must be called before Start.
func (r *Runner) Register(jobType string, h Handler) {
	r.handlers[jobType] = h
}

// Enqueue stores job as queued and wakes a worker.
func (r *Runner) Enqueue(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return enqueueTx(tx, job)
	}); err != nil {
		return err
	}
	r.enqueued(*job)
	return nil
}

func enqueueTx(tx *gorm.DB, job *models.Job) error {
	job.Status = models.JobQueued
	job.Progress = 0
	if err := tx.Create(job).Error; err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", job.Type, err)
	}
	return nil
}

func (r *Runner) enqueued(job models.Job) {
	metrics.JobEnqueued(job.Type)
	r.publish(job)
	r.Wake()
}

// Wake nudges an idle worker to look for queued jobs.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start re-queues jobs interrupted by a previous shutdown and runs the
// workers until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	n, err := r.RequeueStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Info("re-queued interrupted jobs", zap.Int64("count", n))
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			r.work(ctx, worker)
			return nil
		})
	}
	r.log.Info("job workers started", zap.Int("workers", r.opts.Workers))
	return g.Wait()
}

// RequeueStale puts jobs left running by a crashed process back in the queue.
func (r *Runner) RequeueStale(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", models.JobRunning).
		Updates(map[string]any{"status": models.JobQueued, "started_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to re-queue running jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Runner) work(ctx context.Context, worker int) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := r.claim(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Warn("failed to claim job", zap.Int("worker", worker), zap.Error(err))
		}
		if job != nil {
			r.execute(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-ticker.C:
		}
	}
}

// claim moves the oldest queued job to running. The conditional update makes
// the claim atomic across workers and processes.
func (r *Runner) claim(ctx context.Context) (*models.Job, error) {
	db := r.db.WithContext(ctx)
	for attempt := 0; attempt < 3; attempt++ {
		var candidate models.Job
		err := db.Where("status = ?", models.JobQueued).Order("created_at asc").First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		now := time.Now()
		res := db.Model(&models.Job{}).
			Where("id = ? AND status = ?", candidate.ID, models.JobQueued).
			Updates(map[string]any{
				"status":      models.JobRunning,
				"started_at":  now,
				"finished_at": nil,
				"attempts":    gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		var job models.Job
		if err := db.First(&job, "id = ?", candidate.ID).Error; err != nil {
			return nil, err
		}
		return &job, nil
	}
	return nil, nil
}

func (r *Runner) execute(parent context.Context, job *models.Job) {
	log := r.log.With(zap.String("job_id", job.ID), zap.String("type", job.Type))
	start := time.Now()

	h, ok := r.handlers[job.Type]
	if !ok {
		r.finish(job, models.JobFailed, Outcome{}, fmt.Errorf("no handler registered for job type %q", job.Type), start)
		return
	}

	ctx, cancel := context.WithTimeout(parent, r.opts.Timeout)
	r.running.Store(job.ID, cancel)
	defer func() {
		r.running.Delete(job.ID)
		cancel()
	}()

	r.publish(*job)
	log.Info("job started", zap.Int("attempt", job.Attempts))

	rep := &reporter{runner: r, job: job, log: job.Log, cancel: cancel}
	out, err := runSafely(ctx, h, job, rep)

	switch {
	case err == nil:
		r.finish(job, models.JobSucceeded, out, nil, start)
		log.Info("job succeeded", zap.Duration("elapsed", time.Since(start)))
	case parent.Err() != nil:
		// Shutting down: leave the job for the next process.
		r.requeue(job)
		log.Info("job interrupted by shutdown, re-queued")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.finish(job, models.JobFailed, Outcome{}, fmt.Errorf("timed out after %s", r.opts.Timeout), start)
		log.Warn("job timed out", zap.Duration("timeout", r.opts.Timeout))
	default:
		r.finish(job, models.JobFailed, Outcome{}, err, start)
		log.Warn("job failed", zap.Error(err))
	}
}

func runSafely(ctx context.Context, h Handler, job *models.Job, rep Reporter) (out Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Run(ctx, job, rep)
}

// finish records the terminal state unless the job left "running" meanwhile
// (cancelled by a user), in which case the stored state wins.
func (r *Runner) finish(job *models.Job, status string, out Outcome, runErr error, start time.Time) {
	ctx := context.Background()
	now := time.Now()
	updates := map[string]any{
		"status":      status,
		"finished_at": now,
	}
	if status == models.JobSucceeded {
		updates["progress"] = 100
		updates["result_url"] = out.ResultURL
		if out.Result != nil {
			if data, err := json.Marshal(out.Result); err == nil {
				updates["result"] = datatypes.JSON(data)
			}
		}
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobRunning).
		Updates(updates)
	if res.Error != nil {
		r.log.Error("failed to record job result", zap.String("job_id", job.ID), zap.Error(res.Error))
		return
	}
	if err := r.db.WithContext(ctx).First(job, "id = ?", job.ID).Error; err != nil {
		r.log.Error("failed to reload job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.JobFinished(job.Type, job.Status, time.Since(start))
	r.publish(*job)
}

func (r *Runner) requeue(job *models.Job) {
	ctx := context.Background()
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobRunning).
		Updates(map[string]any{"status": models.JobQueued, "started_at": nil}).Error
	if err != nil {
		r.log.Error("failed to re-queue job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Get loads one job.
func (r *Runner) Get(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return job, ErrNotFound
	}
	return job, err
}

// Cancel stops a queued or running job.
func (r *Runner) Cancel(ctx context.Context, id string) (models.Job, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return job, err
	}
	if job.Terminal() {
		return job, ErrNotCancellable
	}
	wasQueued := job.Status == models.JobQueued

	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []string{models.JobQueued, models.JobRunning}).
		Updates(map[string]any{
			"status":      models.JobCancelled,
			"finished_at": now,
			"error":       "cancelled by user",
		})
	if res.Error != nil {
		return job, res.Error
	}
	if res.RowsAffected == 0 {
		return job, ErrNotCancellable
	}
	if cancel, ok := r.running.Load(id); ok {
		cancel.(context.CancelFunc)()
	}
	if job, err = r.Get(ctx, id); err != nil {
		return job, err
	}
	if wasQueued {
		metrics.JobFinished(job.Type, job.Status, 0)
		if hook, ok := r.handlers[job.Type].(CancelHook); ok {
			hook.AfterCancel(ctx, job)
		}
	}
	r.publish(job)
	return job, nil
}

// Retry puts a failed or cancelled job back in the queue.
func (r *Runner) Retry(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if job.Status != models.JobFailed && job.Status != models.JobCancelled {
			return ErrNotRetryable
		}
		if hook, ok := r.handlers[job.Type].(RetryHook); ok {
			if err := hook.BeforeRetry(ctx, tx, job); err != nil {
				return err
			}
		}
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status IN ?", id, []string{models.JobFailed, models.JobCancelled}).
			Updates(map[string]any{
				"status":      models.JobQueued,
				"progress":    0,
				"error":       "",
				"external_id": "",
				"result_url":  "",
				"started_at":  nil,
				"finished_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotRetryable
		}
		return tx.First(&job, "id = ?", id).Error
	})
	if err != nil {
		return job, err
	}
	r.enqueued(job)
	return job, nil
}

func (r *Runner) publish(job models.Job) {
	if r.pub != nil {
		r.pub.PublishJob(job)
	}
}

// reporter persists progress for one running job.
type reporter struct {
	runner *Runner
	job    *models.Job
	cancel context.CancelFunc

	mu  sync.Mutex
	log string
}

func (p *reporter) Progress(pct int, msg string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	updates := map[string]any{"progress": pct}
	if msg != "" {
		updates["log"] = p.appendLine(msg)
	}
	res := p.runner.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", p.job.ID, models.JobRunning).
		Updates(updates)
	if res.Error == nil && res.RowsAffected == 0 {
		// Cancelled from another process.
		p.cancel()
		return
	}
	p.job.Progress = pct
	p.runner.publish(*p.job)
}

func (p *reporter) Logf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := p.appendLine(fmt.Sprintf(format, args...))
	p.runner.db.Model(&models.Job{}).Where("id = ?", p.job.ID).Update("log", line)
}

func (p *reporter) SetExternalID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.ExternalID = id
	p.runner.db.Model(&models.Job{}).Where("id = ?", p.job.ID).Update("external_id", id)
}

func (p *reporter) appendLine(msg string) string {
	p.log += time.Now().UTC().Format(time.RFC3339) + " " + strings.TrimRight(msg, "\n") + "\n"
	if len(p.log) > maxLogBytes {
		p.log = p.log[len(p.log)-maxLogBytes:]
	}
	p.job.Log = p.log
	return p.log
}
