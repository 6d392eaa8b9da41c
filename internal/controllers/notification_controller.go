package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
)

type NotificationController struct {
	DB *gorm.DB
}

func (nc *NotificationController) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	p := parseListParams(c, 20, map[string]string{
		"created_at": "created_at",
		"kind":       "kind",
	}, "created_at")

	base := notify.VisibleTo(nc.DB.Model(&models.Notification{}), user)
	unreadStr := strings.TrimSpace(c.Query("unread"))
	if unreadStr != "" {
		unread, ok := parseBoolFilter(unreadStr)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unread value"})
			return
		}
		if unread {
			base = base.Where("read_at IS NULL")
		} else {
			base = base.Where("read_at IS NOT NULL")
		}
	}
	kind := strings.TrimSpace(c.Query("kind"))
	if kind != "" {
		base = base.Where("kind = ?", kind)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var list []models.Notification
	if err := p.paginate(base).Find(&list).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	meta := p.meta(total)
	if unreadStr != "" {
		meta["unread"] = unreadStr
	}
	if kind != "" {
		meta["kind"] = kind
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "meta": meta})
}

func (nc *NotificationController) UnreadCount(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var count int64
	if err := notify.VisibleTo(nc.DB.Model(&models.Notification{}), user).
		Where("read_at IS NULL").Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MarkRead marks one notification read. Club-wide notifications are shared,
// so reading one marks it for every admin of the club.
func (nc *NotificationController) MarkRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var n models.Notification
	if err := notify.VisibleTo(nc.DB, user).Where("id = ?", id).First(&n).Error; err != nil {
		respondDBError(c, err, "notification")
		return
	}
	if n.ReadAt == nil {
		now := time.Now().UTC()
		if err := nc.DB.Model(&n).Update("read_at", &now).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		n.ReadAt = &now
	}
	c.JSON(http.StatusOK, n)
}

func (nc *NotificationController) MarkAllRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	now := time.Now().UTC()
	res := notify.VisibleTo(nc.DB.Model(&models.Notification{}), user).
		Where("read_at IS NULL").Update("read_at", &now)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": res.RowsAffected})
}
