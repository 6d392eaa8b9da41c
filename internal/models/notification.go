package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NotifyDeploymentSucceeded = "deployment_succeeded"
	NotifyDeploymentFailed    = "deployment_failed"
	NotifyUpdateAvailable     = "update_available"
	NotifyBackupCompleted     = "backup_completed"
	NotifyContactMessage      = "contact_message"
	NotifyForumReply          = "forum_reply"
	NotifyBillingStatus       = "billing_status"
)

// Notification targets a single user, or every admin of the club when UserID is nil.
type Notification struct {
	ID        string     `gorm:"type:uuid;primaryKey" json:"id"`
	ClubID    *string    `gorm:"type:uuid;index" json:"club_id"`
	UserID    *string    `gorm:"type:uuid;index" json:"user_id"`
	Kind      string     `gorm:"index" json:"kind"`
	Title     string     `json:"title"`
	Body      string     `gorm:"type:text" json:"body"`
	Link      string     `json:"link"`
	ReadAt    *time.Time `gorm:"index" json:"read_at"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
