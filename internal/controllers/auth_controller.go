package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/middleware"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/utils"
)

const tokenIssuer = "clubhub"

var errRefreshReused = errors.New("refresh token already used")

type AuthController struct {
	DB            *gorm.DB
	Log           *zap.Logger
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	CookieName    string
	CookieSecure  bool
}

type registerRequest struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	ClubSlug string `json:"club_slug" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register creates a member account in an existing active club.
func (a *AuthController) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if enabled, _ := parseBoolFilter(settingValue(a.DB, "signup_enabled", "true")); !enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "registration is closed"})
		return
	}

	var club models.Club
	if err := a.DB.Where("slug = ? AND active = ?", strings.ToLower(strings.TrimSpace(req.ClubSlug)), true).First(&club).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "club not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	pw, err := utils.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	user := models.User{
		ClubID:   &club.ID,
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: pw,
		Role:     models.RoleMember,
		Active:   true,
	}
	if err := a.DB.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "registered",
		"user_id":   user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
		"club_id":   club.ID,
	})
}

func (a *AuthController) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := a.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !user.Active || !utils.CheckPassword(user.Password, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	access, refresh, err := a.issueTokens(a.DB, user, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	now := time.Now().UTC()
	if err := a.DB.Model(&user).Update("last_login_at", &now).Error; err != nil && a.Log != nil {
		a.Log.Warn("failed to record login", zap.String("user_id", user.ID), zap.Error(err))
	}

	a.setSessionCookie(c, access.Token)
	c.JSON(http.StatusOK, gin.H{
		"access_token":       access.Token,
		"token_type":         "Bearer",
		"expires_in":         int(a.AccessTTL.Seconds()),
		"role":               user.Role,
		"club_id":            user.ClubID,
		"refresh_token":      refresh.Token,
		"refresh_expires_in": int(a.RefreshTTL.Seconds()),
	})
}

func (a *AuthController) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	out := gin.H{
		"user_id":       user.ID,
		"email":         user.Email,
		"full_name":     user.FullName,
		"role":          user.Role,
		"club_id":       user.ClubID,
		"active":        user.Active,
		"last_login_at": user.LastLoginAt,
		"created_at":    user.CreatedAt,
		"updated_at":    user.UpdatedAt,
	}
	if user.ClubID != nil {
		var club models.Club
		if err := a.DB.Where("id = ?", *user.ClubID).First(&club).Error; err == nil {
			out["club"] = gin.H{"id": club.ID, "name": club.Name, "slug": club.Slug}
		}
	}
	c.JSON(http.StatusOK, out)
}

type tokenPair struct {
	Token string
	JTI   string
}

// issueTokens signs a new access/refresh pair and stores the refresh token
// through db. An empty jti gets a fresh one.
func (a *AuthController) issueTokens(db *gorm.DB, user models.User, jti string) (access tokenPair, refresh tokenPair, err error) {
	now := time.Now().UTC()
	acl := middleware.Claims{
		UserID: user.ID,
		Role:   user.Role,
		ClubID: clubIDOf(user),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.AccessTTL)),
			Subject:   user.ID,
		},
	}
	atStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, acl).SignedString([]byte(a.AccessSecret))
	if err != nil {
		return
	}
	access = tokenPair{Token: atStr}

	if jti == "" {
		jti = uuid.NewString()
	}
	rcl := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.RefreshTTL)),
		Subject:   user.ID,
		ID:        jti,
	}
	rtStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rcl).SignedString([]byte(a.RefreshSecret))
	if err != nil {
		return
	}
	refresh = tokenPair{Token: rtStr, JTI: jti}

	// only the hash is stored
	rec := models.RefreshToken{
		TokenID:   jti,
		UserIDRef: user.ID,
		TokenHash: utils.SHA256Hex(rtStr),
		ExpiresAt: now.Add(a.RefreshTTL),
	}
	err = db.Create(&rec).Error
	return
}

func (a *AuthController) setSessionCookie(c *gin.Context, token string) {
	if a.CookieName == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(a.CookieName, token, int(a.AccessTTL.Seconds()), "/", "", a.CookieSecure, true)
}

func (a *AuthController) clearSessionCookie(c *gin.Context) {
	if a.CookieName == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(a.CookieName, "", -1, "/", "", a.CookieSecure, true)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (a *AuthController) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := jwt.ParseWithClaims(req.RefreshToken, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.RefreshSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	var rec models.RefreshToken
	if err := a.DB.Where("token_hash = ?", utils.SHA256Hex(req.RefreshToken)).First(&rec).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token not found"})
		return
	}
	if rec.RevokedAt != nil || time.Now().UTC().After(rec.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token expired or revoked"})
		return
	}
	var user models.User
	if err := a.DB.Where("id = ? AND active = ?", rec.UserIDRef, true).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found or inactive"})
		return
	}

	// only one concurrent exchange can revoke the token
	var access, newRefresh tokenPair
	err = a.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		jti := uuid.NewString()
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", rec.ID).
			Updates(map[string]interface{}{
				"revoked_at":           &now,
				"replaced_by_token_id": jti,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errRefreshReused
		}
		var issueErr error
		access, newRefresh, issueErr = a.issueTokens(tx, user, jti)
		return issueErr
	})
	if errors.Is(err, errRefreshReused) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token expired or revoked"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	a.setSessionCookie(c, access.Token)
	c.JSON(http.StatusOK, gin.H{
		"access_token":       access.Token,
		"token_type":         "Bearer",
		"expires_in":         int(a.AccessTTL.Seconds()),
		"refresh_token":      newRefresh.Token,
		"refresh_expires_in": int(a.RefreshTTL.Seconds()),
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

// Logout revokes the given refresh token, or all of the user's tokens, and
// clears the session cookie. Access tokens stay valid until they expire.
func (a *AuthController) Logout(c *gin.Context) {
	var req logoutRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	now := time.Now().UTC()

	if req.RefreshToken != "" {
		if err := a.DB.Model(&models.RefreshToken{}).
			Where("token_hash = ? AND revoked_at IS NULL", utils.SHA256Hex(req.RefreshToken)).
			Update("revoked_at", &now).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if req.All {
		if user, ok := middleware.CurrentUser(c); ok {
			if err := a.DB.Model(&models.RefreshToken{}).
				Where("user_id_ref = ? AND revoked_at IS NULL", user.ID).
				Update("revoked_at", &now).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
	}
	a.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
