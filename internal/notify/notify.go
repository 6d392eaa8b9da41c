// Package notify persists in-app notifications and pushes them to online users.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/mailer"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

// Pusher delivers a notification to a connected user.
type Pusher interface {
	NotifyUser(userID string, n models.Notification)
}

type Service struct {
	DB     *gorm.DB
	Push   Pusher
	Mailer mailer.Mailer
	Log    *zap.Logger
}

type Message struct {
	Kind  string
	Title string
	Body  string
	Link  string
}

// ClubAdmins stores a club-wide notification and pushes it to every active admin of the club.
func (s *Service) ClubAdmins(ctx context.Context, clubID string, msg Message) (models.Notification, error) {
	n := models.Notification{
		ClubID: &clubID,
		Kind:   msg.Kind,
		Title:  msg.Title,
		Body:   msg.Body,
		Link:   msg.Link,
	}
	if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil {
		return n, fmt.Errorf("failed to create notification: %w", err)
	}
	if s.Push == nil {
		return n, nil
	}
	var adminIDs []string
	if err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("club_id = ? AND role = ? AND active = ?", clubID, models.RoleAdmin, true).
		Pluck("id", &adminIDs).Error; err != nil {
		s.logger().Warn("failed to load club admins", zap.String("club_id", clubID), zap.Error(err))
		return n, nil
	}
	for _, id := range adminIDs {
		s.Push.NotifyUser(id, n)
	}
	return n, nil
}

// User stores a notification addressed to one user and pushes it.
func (s *Service) User(ctx context.Context, clubID *string, userID string, msg Message) (models.Notification, error) {
	n := models.Notification{
		ClubID: clubID,
		UserID: &userID,
		Kind:   msg.Kind,
		Title:  msg.Title,
		Body:   msg.Body,
		Link:   msg.Link,
	}
	if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil {
		return n, fmt.Errorf("failed to create notification: %w", err)
	}
	if s.Push != nil {
		s.Push.NotifyUser(userID, n)
	}
	return n, nil
}

// EmailClub mails the club's contact address. Failures are logged, not returned.
func (s *Service) EmailClub(ctx context.Context, club models.Club, subject, body, replyTo string) {
	if s.Mailer == nil || club.ContactEmail == "" {
		return
	}
	err := s.Mailer.Send(ctx, mailer.Message{
		To:      []string{club.ContactEmail},
		Subject: subject,
		Body:    body,
		ReplyTo: replyTo,
	})
	if err != nil {
		s.logger().Warn("failed to email club", zap.String("club_id", club.ID), zap.Error(err))
	}
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// VisibleTo scopes a notification query to what user may read: rows addressed
// to them and, for club admins, club-wide rows of their club.
func VisibleTo(db *gorm.DB, user models.User) *gorm.DB {
	if user.Role == models.RoleAdmin && user.ClubID != nil {
		return db.Where("user_id = ? OR (user_id IS NULL AND club_id = ?)", user.ID, *user.ClubID)
	}
	if user.Role == models.RoleSuperAdmin {
		return db.Where("user_id = ? OR (user_id IS NULL AND club_id IS NULL)", user.ID)
	}
	return db.Where("user_id = ?", user.ID)
}
