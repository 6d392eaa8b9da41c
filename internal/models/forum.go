package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ForumCategory struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	ClubID      string    `gorm:"type:uuid;uniqueIndex:uniq_club_category_slug" json:"club_id"`
	Name        string    `json:"name"`
	Slug        string    `gorm:"uniqueIndex:uniq_club_category_slug" json:"slug"`
	Description string    `gorm:"type:text" json:"description"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *ForumCategory) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type ForumTopic struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	CategoryID string    `gorm:"type:uuid;index" json:"category_id"`
	ClubID     string    `gorm:"type:uuid;index" json:"club_id"`
	AuthorID   string    `gorm:"type:uuid;index" json:"author_id"`
	Title      string    `json:"title"`
	Pinned     bool      `json:"pinned"`
	Locked     bool      `json:"locked"`
	ReplyCount int       `json:"reply_count"`
	LastPostAt time.Time `gorm:"index" json:"last_post_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (t *ForumTopic) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type ForumPost struct {
	ID        string     `gorm:"type:uuid;primaryKey" json:"id"`
	TopicID   string     `gorm:"type:uuid;index" json:"topic_id"`
	AuthorID  string     `gorm:"type:uuid;index" json:"author_id"`
	Body      string     `gorm:"type:text" json:"body"`
	BodyHTML  string     `gorm:"type:text" json:"body_html"`
	EditedAt  *time.Time `json:"edited_at"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (p *ForumPost) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
