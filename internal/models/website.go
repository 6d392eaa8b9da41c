package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	WebsiteDraft     = "draft"
	WebsiteDeploying = "deploying"
	WebsiteLive      = "live"
	WebsiteFailed    = "failed"
)

// Website is a deployable site configuration belonging to a club.
type Website struct {
	ID               string                                `gorm:"type:uuid;primaryKey" json:"id"`
	ClubID           string                                `gorm:"type:uuid;index" json:"club_id"`
	Name             string                                `json:"name"`
	Slug             string                                `gorm:"uniqueIndex" json:"slug"`
	Domain           string                                `json:"domain"`
	HostingProvider  string                                `json:"hosting_provider"`
	DatabaseProvider string                                `json:"database_provider"`
	Region           string                                `json:"region"`
	TemplateVersion  string                                `json:"template_version"`
	ProviderTarget   string                                `json:"provider_target"` // provider-side site/service id
	EnvVars          datatypes.JSONType[map[string]string] `json:"env_vars"`
	Status           string                                `gorm:"index;default:draft" json:"status"`
	LiveURL          string                                `json:"live_url"`
	LastDeployedAt   *time.Time                            `json:"last_deployed_at"`
	CreatedAt        time.Time                             `json:"created_at"`
	UpdatedAt        time.Time                             `json:"updated_at"`
}

func (w *Website) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = WebsiteDraft
	}
	return nil
}
