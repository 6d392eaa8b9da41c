package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

const userKey = "user"

type AuthConfig struct {
	JWTSecret  string
	CookieName string
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	ClubID string `json:"club_id,omitempty"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// tokenFromRequest prefers the Authorization header and falls back to the session cookie.
func tokenFromRequest(c *gin.Context, cookieName string) string {
	auth := c.GetHeader("Authorization")
	if auth != "" && strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func AuthMiddleware(db *gorm.DB, cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := tokenFromRequest(c, cfg.CookieName)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if err := db.Where("id = ? AND active = ?", claims.UserID, true).First(&user).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found or inactive"})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// SetUser stores the authenticated user on the context.
func SetUser(c *gin.Context, user models.User) {
	c.Set(userKey, user)
}

// CurrentUser returns the authenticated user, if any.
func CurrentUser(c *gin.Context) (models.User, bool) {
	uVal, ok := c.Get(userKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := uVal.(models.User)
	return user, ok
}

func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if _, ok := allowed[user.Role]; !ok {
			// superadmin passes every role gate
			if user.Role != models.RoleSuperAdmin {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}
		c.Next()
	}
}

// RequireClub rejects users that are not attached to a club. Superadmins pass.
func RequireClub() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if user.Role != models.RoleSuperAdmin && (user.ClubID == nil || *user.ClubID == "") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no club assigned"})
			return
		}
		c.Next()
	}
}
