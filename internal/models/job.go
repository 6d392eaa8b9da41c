package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobDeployment  = "deployment"
	JobBackup      = "backup"
	JobUpdateCheck = "update_check"
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job is an asynchronous task row (deployment, backup, update check) polled for status.
type Job struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	ClubID     string         `gorm:"type:uuid;index" json:"club_id"`
	WebsiteID  *string        `gorm:"type:uuid;index" json:"website_id"`
	Type       string         `gorm:"index" json:"type"`
	Status     string         `gorm:"index" json:"status"`
	Progress   int            `json:"progress"`
	ExternalID string         `json:"external_id"`
	ResultURL  string         `json:"result_url"`
	Payload    datatypes.JSON `json:"payload"`
	Result     datatypes.JSON `json:"result"`
	Log        string         `gorm:"type:text" json:"-"`
	Error      string         `gorm:"type:text" json:"error"`
	Attempts   int            `json:"attempts"`
	CreatedBy  *string        `gorm:"type:uuid" json:"created_by"`
	StartedAt  *time.Time     `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	return nil
}

// Terminal reports whether the job reached a final state.
func (j Job) Terminal() bool {
	switch j.Status {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}
