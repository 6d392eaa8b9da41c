package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/deploy"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/storage"
)

// BackupDocument is the exported snapshot of one club.
type BackupDocument struct {
	Version         int                    `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	Club            models.Club            `json:"club"`
	Members         []models.User          `json:"members"`
	Websites        []models.Website       `json:"websites"`
	ForumCategories []models.ForumCategory `json:"forum_categories"`
	ForumTopics     []models.ForumTopic    `json:"forum_topics"`
	ForumPosts      []models.ForumPost     `json:"forum_posts"`
	Gallery         []models.GalleryImage  `json:"gallery"`
}

// BackupHandler exports a club to gzip JSON in storage. Secret env var
// values are masked and the file is only reachable through ArtifactURL.
type BackupHandler struct {
	DB         *gorm.DB
	Store      storage.Storage
	Notify     *notify.Service
	APIBaseURL string
	Now        func() time.Time
}

func (h *BackupHandler) Run(ctx context.Context, job *models.Job, rep Reporter) (Outcome, error) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	doc := BackupDocument{Version: 1, CreatedAt: now().UTC()}
	db := h.DB.WithContext(ctx)

	if err := db.First(&doc.Club, "id = ?", job.ClubID).Error; err != nil {
		return Outcome{}, fmt.Errorf("failed to load club: %w", err)
	}
	queries := []struct {
		name string
		run  func() error
	}{
		{"members", func() error { return db.Where("club_id = ?", job.ClubID).Order("email").Find(&doc.Members).Error }},
		{"websites", func() error { return db.Where("club_id = ?", job.ClubID).Order("slug").Find(&doc.Websites).Error }},
		{"forum categories", func() error {
			return db.Where("club_id = ?", job.ClubID).Order("position").Find(&doc.ForumCategories).Error
		}},
		{"forum topics", func() error {
			return db.Where("club_id = ?", job.ClubID).Order("created_at").Find(&doc.ForumTopics).Error
		}},
		{"forum posts", func() error {
			topics := db.Model(&models.ForumTopic{}).Select("id").Where("club_id = ?", job.ClubID)
			return db.Where("topic_id IN (?)", topics).Order("created_at").Find(&doc.ForumPosts).Error
		}},
		{"gallery", func() error { return db.Where("club_id = ?", job.ClubID).Order("created_at").Find(&doc.Gallery).Error }},
	}
	for i, q := range queries {
		if err := q.run(); err != nil {
			return Outcome{}, fmt.Errorf("failed to export %s: %w", q.name, err)
		}
		rep.Progress(10+i*10, "exported "+q.name)
	}
	for i := range doc.Websites {
		w := &doc.Websites[i]
		w.EnvVars = datatypes.NewJSONType(deploy.MaskSecrets(w.EnvVars.Data()))
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return Outcome{}, err
	}
	zw.Name = fmt.Sprintf("%s.json", doc.Club.Slug)
	zw.ModTime = doc.CreatedAt
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		return Outcome{}, fmt.Errorf("failed to encode backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Outcome{}, fmt.Errorf("failed to compress backup: %w", err)
	}

	key := fmt.Sprintf("backups/%s/%s.json.gz", job.ClubID, doc.CreatedAt.Format("20060102T150405Z"))
	size, err := h.Store.Put(ctx, key, &buf, "application/gzip")
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to store backup: %w", err)
	}
	rep.Progress(90, fmt.Sprintf("stored %s (%s)", key, humanize.Bytes(uint64(size))))
	link := ArtifactURL(h.APIBaseURL, job.ID)

	if h.Notify != nil {
		_, _ = h.Notify.ClubAdmins(ctx, job.ClubID, notify.Message{
			Kind:  models.NotifyBackupCompleted,
			Title: "Club backup completed",
			Body:  fmt.Sprintf("Backup of %d members, %d websites and %d forum posts (%s).", len(doc.Members), len(doc.Websites), len(doc.ForumPosts), humanize.Bytes(uint64(size))),
			Link:  link,
		})
	}

	return Outcome{
		ResultURL: link,
		Result: map[string]any{
			ArtifactKey:   key,
			"size":        size,
			"members":     len(doc.Members),
			"websites":    len(doc.Websites),
			"forum_posts": len(doc.ForumPosts),
			"images":      len(doc.Gallery),
		},
	}, nil
}
