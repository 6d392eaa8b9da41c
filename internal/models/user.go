package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleSuperAdmin = "superadmin"
	RoleAdmin      = "admin"
	RoleMember     = "member"
)

type User struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	ClubID      *string    `gorm:"type:uuid;index" json:"club_id"`
	FullName    string     `json:"full_name"`
	Email       string     `gorm:"uniqueIndex" json:"email"`
	Password    string     `json:"-"`
	Role        string     `gorm:"index" json:"role"`
	Active      bool       `json:"active"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// InClub reports whether the user belongs to the given club.
func (u User) InClub(clubID string) bool {
	return u.ClubID != nil && *u.ClubID == clubID
}
