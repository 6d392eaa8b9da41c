package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GalleryImage struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	ClubID      string    `gorm:"type:uuid;index" json:"club_id"`
	UploaderID  string    `gorm:"type:uuid;index" json:"uploader_id"`
	Title       string    `json:"title"`
	Caption     string    `gorm:"type:text" json:"caption"`
	StorageKey  string    `gorm:"uniqueIndex" json:"-"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (g *GalleryImage) BeforeCreate(tx *gorm.DB) (err error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}
