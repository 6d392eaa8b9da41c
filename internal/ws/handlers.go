package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/clubhub_backend/internal/middleware"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

// JobsHandler streams job updates: superadmins see every club, admins their own.
func JobsHandler(hub *JobHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not available"})
			return
		}
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		allowAll := user.Role == models.RoleSuperAdmin
		if !allowAll && (user.Role != models.RoleAdmin || user.ClubID == nil) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		jc := &jobClient{
			client:   &client{conn: conn, send: make(chan []byte, sendBufferSize)},
			allowAll: allowAll,
		}
		if user.ClubID != nil {
			jc.clubID = *user.ClubID
		}
		select {
		case hub.register <- jc:
		case <-hub.done:
			conn.Close()
			return
		}

		go jc.writePump()
		jc.readPump(func() {
			select {
			case hub.unregister <- jc:
			case <-hub.done:
			}
		})
	}
}

// NotificationsHandler streams the current user's notifications.
func NotificationsHandler(hub *UserHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not available"})
			return
		}
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		uc := &userClient{
			client: &client{conn: conn, send: make(chan []byte, 64)},
			userID: user.ID,
		}
		select {
		case hub.register <- uc:
		case <-hub.done:
			conn.Close()
			return
		}

		go uc.writePump()
		uc.readPump(func() {
			select {
			case hub.unregister <- uc:
			case <-hub.done:
			}
		})
	}
}
