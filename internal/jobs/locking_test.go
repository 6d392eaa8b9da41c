package jobs_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zaqqye/clubhub_backend/internal/jobs"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

// Postgres runs at READ COMMITTED, so the active-deployment count is only
// safe once the website row is locked in the same transaction.
func TestEnqueueDeploymentLocksWebsiteBeforeCounting(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:               gormlogger.Discard,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	website := models.Website{ID: "8d0f3c52-3a4b-4c8e-9a7e-2f1d5b6c7e80", ClubID: "1b2c3d4e-5f60-4718-8293-a4b5c6d7e8f9"}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id" FROM "websites" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(website.ID))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	r := jobs.NewRunner(db, zap.NewNop(), nil, jobs.Options{})
	_, err = r.EnqueueDeployment(context.Background(), website, "")
	assert.ErrorIs(t, err, jobs.ErrActiveDeployment)
	assert.NoError(t, mock.ExpectationsWereMet())
}
