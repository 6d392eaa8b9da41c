package controllers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/storage"
)

const maxImageBytes = 10 << 20

// imageTypes maps accepted sniffed content types to file extensions.
var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type GalleryController struct {
	DB    *gorm.DB
	Store storage.Storage
	Log   *zap.Logger
}

func imageJSON(img models.GalleryImage) gin.H {
	return gin.H{
		"id":           img.ID,
		"club_id":      img.ClubID,
		"uploader_id":  img.UploaderID,
		"title":        img.Title,
		"caption":      img.Caption,
		"content_type": img.ContentType,
		"size":         img.Size,
		"size_human":   humanize.Bytes(uint64(img.Size)),
		"url":          img.URL,
		"created_at":   img.CreatedAt,
	}
}

// Upload stores one image for the caller's club.
func (gc *GalleryController) Upload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageBytes+1<<20)
	if err := c.Request.ParseMultipartForm(maxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("image exceeds %s", humanize.IBytes(maxImageBytes))})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse form"})
		return
	}
	clubID, ok := targetClub(user, c.PostForm("club_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "club_id is required"})
		return
	}
	if quota, err := strconv.ParseInt(settingValue(gc.DB, "max_gallery_images", "0"), 10, 64); err == nil && quota > 0 {
		var count int64
		if err := gc.DB.Model(&models.GalleryImage{}).Where("club_id = ?", clubID).Count(&count).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if count >= quota {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("gallery is full (%d images)", quota)})
			return
		}
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	if len(data) > maxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("image exceeds %s", humanize.IBytes(maxImageBytes))})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
		return
	}
	contentType := http.DetectContentType(data)
	ext, ok := imageTypes[contentType]
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only jpeg, png, gif and webp images are allowed"})
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, ext)
	}
	key := fmt.Sprintf("gallery/%s/%s%s", clubID, uuid.NewString(), ext)
	ctx := c.Request.Context()
	size, err := gc.Store.Put(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store image"})
		return
	}

	img := models.GalleryImage{
		ClubID:      clubID,
		UploaderID:  user.ID,
		Title:       title,
		Caption:     strings.TrimSpace(c.PostForm("caption")),
		StorageKey:  key,
		ContentType: contentType,
		Size:        size,
		URL:         gc.Store.URL(key),
	}
	if err := gc.DB.Create(&img).Error; err != nil {
		if delErr := gc.Store.Delete(ctx, key); delErr != nil && gc.Log != nil {
			gc.Log.Warn("failed to remove orphaned image", zap.String("key", key), zap.Error(delErr))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, imageJSON(img))
}

func (gc *GalleryController) list(c *gin.Context, base *gorm.DB) {
	p := parseListParams(c, 24, map[string]string{
		"created_at": "created_at",
		"title":      "title",
		"size":       "size",
	}, "created_at")
	if p.Q != "" {
		like := "%" + strings.ToLower(p.Q) + "%"
		base = base.Where("LOWER(title) LIKE ? OR LOWER(caption) LIKE ?", like, like)
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var images []models.GalleryImage
	if err := p.paginate(base).Find(&images).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(images))
	for _, img := range images {
		out = append(out, imageJSON(img))
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": p.meta(total)})
}

func (gc *GalleryController) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	gc.list(c, scopeClub(c, gc.DB.Model(&models.GalleryImage{}), user, "club_id"))
}

// PublicList lists the gallery of an active club by slug.
func (gc *GalleryController) PublicList(c *gin.Context) {
	var club models.Club
	slug := strings.ToLower(strings.TrimSpace(c.Param("slug")))
	if err := gc.DB.Where("slug = ? AND active = ?", slug, true).First(&club).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}
	gc.list(c, gc.DB.Model(&models.GalleryImage{}).Where("club_id = ?", club.ID))
}

func (gc *GalleryController) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var img models.GalleryImage
	if err := gc.DB.Where("id = ?", id).First(&img).Error; err != nil {
		respondDBError(c, err, "image")
		return
	}
	if !canAccessClub(user, img.ClubID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	if !canModerate(user, img.UploaderID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if err := gc.Store.Delete(c.Request.Context(), img.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to delete stored image"})
		return
	}
	if err := gc.DB.Where("id = ?", img.ID).Delete(&models.GalleryImage{}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
