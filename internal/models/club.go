package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionNone      = "none"
	SubscriptionPending   = "pending"
	SubscriptionActive    = "active"
	SubscriptionSuspended = "suspended"
	SubscriptionCancelled = "cancelled"
)

// Club is the tenant: it owns websites, members, forum, gallery and billing state.
type Club struct {
	ID                 string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string    `gorm:"uniqueIndex" json:"name"`
	Slug               string    `gorm:"uniqueIndex" json:"slug"`
	Description        string    `gorm:"type:text" json:"description"`
	ContactEmail       string    `json:"contact_email"`
	LogoURL            string    `json:"logo_url"`
	SubscriptionStatus string    `gorm:"index;default:none" json:"subscription_status"`
	BillingProvider    string    `json:"billing_provider"`
	SubscriptionID     string    `gorm:"index" json:"subscription_id"`
	Plan               string    `json:"plan"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (c *Club) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = SubscriptionNone
	}
	return nil
}

// BillingEvent records processed provider webhook events so redeliveries are ignored.
type BillingEvent struct {
	ID        uint    `gorm:"primaryKey"`
	Provider  string  `gorm:"uniqueIndex:uniq_billing_event"`
	EventID   string  `gorm:"uniqueIndex:uniq_billing_event"`
	Type      string  `gorm:"index"`
	ClubID    *string `gorm:"type:uuid;index"`
	Payload   []byte
	CreatedAt time.Time
}
