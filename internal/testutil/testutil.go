// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zaqqye/clubhub_backend/internal/database"
	"github.com/zaqqye/clubhub_backend/internal/middleware"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/utils"
)

const (
	JWTSecret  = "test-secret-please-change"
	CookieName = "clubhub_session"
	Password   = "password123"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// NewDB returns a migrated in-memory SQLite database private to the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err, "failed to open sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db), "failed to migrate schema")
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// CreateClub inserts an active club with the given name.
func CreateClub(t *testing.T, db *gorm.DB, name string) models.Club {
	t.Helper()
	club := models.Club{
		Name:         name,
		Slug:         utils.Slugify(name),
		ContactEmail: utils.Slugify(name) + "@clubs.example",
		Active:       true,
	}
	require.NoError(t, db.Create(&club).Error)
	return club
}

// CreateUser inserts an active user with Password as password.
func CreateUser(t *testing.T, db *gorm.DB, email, role string, clubID *string) models.User {
	t.Helper()
	hashed, err := utils.HashPassword(Password)
	require.NoError(t, err)
	user := models.User{
		ClubID:   clubID,
		FullName: strings.Split(email, "@")[0],
		Email:    email,
		Password: hashed,
		Role:     role,
		Active:   true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

// Token signs an access token for user with JWTSecret.
func Token(t *testing.T, user models.User) string {
	t.Helper()
	claims := middleware.Claims{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	if user.ClubID != nil {
		claims.ClubID = *user.ClubID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	require.NoError(t, err)
	return signed
}

// AuthConfig matches the secret used by Token.
func AuthConfig() middleware.AuthConfig {
	return middleware.AuthConfig{JWTSecret: JWTSecret, CookieName: CookieName}
}

// Bearer formats an Authorization header value.
func Bearer(t *testing.T, user models.User) string {
	return "Bearer " + Token(t, user)
}
