package models

import "time"

// AppSetting stores arbitrary key/value platform settings managed by superadmins.
type AppSetting struct {
	Key         string    `gorm:"size:128;primaryKey" json:"key"`
	Value       string    `gorm:"type:text" json:"value"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
