package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

// EnqueueBackup queues a backup of one club unless one is already pending.
func (r *Runner) EnqueueBackup(ctx context.Context, clubID string, createdBy *string) (models.Job, bool, error) {
	var existing models.Job
	err := r.db.WithContext(ctx).
		Where("club_id = ? AND type = ? AND status IN ?", clubID, models.JobBackup, []string{models.JobQueued, models.JobRunning}).
		Limit(1).Find(&existing).Error
	if err != nil {
		return existing, false, err
	}
	if existing.ID != "" {
		return existing, false, nil
	}
	job := models.Job{ClubID: clubID, Type: models.JobBackup, CreatedBy: createdBy}
	if err := r.Enqueue(ctx, &job); err != nil {
		return job, false, err
	}
	return job, true, nil
}

// EnqueueBackups queues a backup for every active club.
func (r *Runner) EnqueueBackups(ctx context.Context) (int, error) {
	var clubIDs []string
	if err := r.db.WithContext(ctx).Model(&models.Club{}).Where("active = ?", true).Pluck("id", &clubIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to list clubs: %w", err)
	}
	queued := 0
	for _, id := range clubIDs {
		_, created, err := r.EnqueueBackup(ctx, id, nil)
		if err != nil {
			return queued, err
		}
		if created {
			queued++
		}
	}
	return queued, nil
}

// EnqueueUpdateChecks queues an update check for every website of clubID,
// or of every active club when clubID is empty.
func (r *Runner) EnqueueUpdateChecks(ctx context.Context, clubID string, createdBy *string) (int, error) {
	q := r.db.WithContext(ctx).Model(&models.Website{})
	if clubID != "" {
		q = q.Where("club_id = ?", clubID)
	} else {
		active := r.db.Model(&models.Club{}).Select("id").Where("active = ?", true)
		q = q.Where("club_id IN (?)", active)
	}
	var websites []models.Website
	if err := q.Find(&websites).Error; err != nil {
		return 0, fmt.Errorf("failed to list websites: %w", err)
	}
	for i := range websites {
		w := websites[i]
		job := models.Job{ClubID: w.ClubID, WebsiteID: &w.ID, Type: models.JobUpdateCheck, CreatedBy: createdBy}
		if err := r.Enqueue(ctx, &job); err != nil {
			return i, err
		}
	}
	return len(websites), nil
}

// ScheduleMaintenance registers the periodic backup and update check.
func (r *Runner) ScheduleMaintenance(ctx context.Context, s *Scheduler, backupSpec, updateSpec string) error {
	if backupSpec != "" {
		if err := s.Add("backup", backupSpec, func() {
			n, err := r.EnqueueBackups(ctx)
			if err != nil {
				r.log.Error("scheduled backup failed", zap.Error(err))
				return
			}
			r.log.Info("scheduled backups queued", zap.Int("clubs", n))
		}); err != nil {
			return fmt.Errorf("invalid backup schedule %q: %w", backupSpec, err)
		}
	}
	if updateSpec != "" {
		if err := s.Add("update-check", updateSpec, func() {
			n, err := r.EnqueueUpdateChecks(ctx, "", nil)
			if err != nil {
				r.log.Error("scheduled update check failed", zap.Error(err))
				return
			}
			r.log.Info("update checks queued", zap.Int("websites", n))
		}); err != nil {
			return fmt.Errorf("invalid update check schedule %q: %w", updateSpec, err)
		}
	}
	return nil
}
