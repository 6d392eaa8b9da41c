package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/markdown"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/utils"
)

var errTopicLocked = errors.New("topic locked")

type ForumController struct {
	DB     *gorm.DB
	Notify *notify.Service
	Log    *zap.Logger
}

type categoryRequest struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	Position    *int    `json:"position"`
}

type topicRequest struct {
	Title string `json:"title" binding:"required,max=200"`
	Body  string `json:"body" binding:"required,max=20000"`
}

type postRequest struct {
	Body string `json:"body" binding:"required,max=20000"`
}

func (fc *ForumController) ListCategories(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	q := scopeClub(c, fc.DB.Model(&models.ForumCategory{}), user, "club_id")
	var cats []models.ForumCategory
	if err := q.Order("position ASC, name ASC").Find(&cats).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type countRow struct {
		CategoryID string
		Topics     int64
	}
	var rows []countRow
	if len(cats) > 0 {
		ids := make([]string, 0, len(cats))
		for _, cat := range cats {
			ids = append(ids, cat.ID)
		}
		if err := fc.DB.Model(&models.ForumTopic{}).
			Select("category_id, COUNT(*) AS topics").
			Where("category_id IN ?", ids).
			Group("category_id").Scan(&rows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.CategoryID] = r.Topics
	}
	out := make([]gin.H, 0, len(cats))
	for _, cat := range cats {
		out = append(out, gin.H{
			"id":          cat.ID,
			"club_id":     cat.ClubID,
			"name":        cat.Name,
			"slug":        cat.Slug,
			"description": cat.Description,
			"position":    cat.Position,
			"topics":      counts[cat.ID],
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (fc *ForumController) findCategory(c *gin.Context, user models.User) (models.ForumCategory, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return models.ForumCategory{}, false
	}
	var cat models.ForumCategory
	if err := fc.DB.Where("id = ?", id).First(&cat).Error; err != nil {
		respondDBError(c, err, "category")
		return cat, false
	}
	if !canAccessClub(user, cat.ClubID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return cat, false
	}
	return cat, true
}

func (fc *ForumController) CreateCategory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	clubID, ok := targetClub(user, c.Query("club_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "club_id is required"})
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	cat := models.ForumCategory{ClubID: clubID}
	if !fc.applyCategory(c, &cat, req) {
		return
	}
	if err := fc.DB.Create(&cat).Error; err != nil {
		respondDBError(c, err, "category")
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (fc *ForumController) applyCategory(c *gin.Context, cat *models.ForumCategory, req categoryRequest) bool {
	if req.Name != nil {
		cat.Name = strings.TrimSpace(*req.Name)
	}
	if req.Slug != nil {
		cat.Slug = strings.TrimSpace(*req.Slug)
	}
	if cat.Slug == "" {
		cat.Slug = utils.Slugify(cat.Name)
	}
	if !utils.ValidSlug(cat.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid slug %q", cat.Slug)})
		return false
	}
	if req.Description != nil {
		cat.Description = *req.Description
	}
	if req.Position != nil {
		cat.Position = *req.Position
	}
	return true
}

func (fc *ForumController) UpdateCategory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	cat, ok := fc.findCategory(c, user)
	if !ok {
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !fc.applyCategory(c, &cat, req) {
		return
	}
	if err := fc.DB.Save(&cat).Error; err != nil {
		respondDBError(c, err, "category")
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (fc *ForumController) DeleteCategory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	cat, ok := fc.findCategory(c, user)
	if !ok {
		return
	}
	var topics int64
	if err := fc.DB.Model(&models.ForumTopic{}).Where("category_id = ?", cat.ID).Count(&topics).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if topics > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "category is not empty"})
		return
	}
	if err := fc.DB.Where("id = ?", cat.ID).Delete(&models.ForumCategory{}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// authorNames maps user ids to display names.
func (fc *ForumController) authorNames(ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names
	}
	var users []models.User
	fc.DB.Select("id", "full_name").Where("id IN ?", ids).Find(&users)
	for _, u := range users {
		names[u.ID] = u.FullName
	}
	return names
}

func (fc *ForumController) ListTopics(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	cat, ok := fc.findCategory(c, user)
	if !ok {
		return
	}
	p := parseListParams(c, 20, map[string]string{"last_post_at": "last_post_at"}, "last_post_at")
	base := fc.DB.Model(&models.ForumTopic{}).Where("category_id = ?", cat.ID)
	if p.Q != "" {
		base = base.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(p.Q)+"%")
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var topics []models.ForumTopic
	q := base.Order("pinned DESC").Order("last_post_at DESC")
	if !p.All {
		q = q.Offset((p.Page - 1) * p.Limit).Limit(p.Limit)
	}
	if err := q.Find(&topics).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	authorIDs := make([]string, 0, len(topics))
	for _, t := range topics {
		authorIDs = append(authorIDs, t.AuthorID)
	}
	names := fc.authorNames(authorIDs)
	out := make([]gin.H, 0, len(topics))
	for _, t := range topics {
		out = append(out, gin.H{
			"id":           t.ID,
			"category_id":  t.CategoryID,
			"title":        t.Title,
			"author_id":    t.AuthorID,
			"author_name":  names[t.AuthorID],
			"pinned":       t.Pinned,
			"locked":       t.Locked,
			"reply_count":  t.ReplyCount,
			"last_post_at": t.LastPostAt,
			"created_at":   t.CreatedAt,
		})
	}
	meta := p.meta(total)
	meta["sort_by"] = "pinned,last_post_at"
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": meta, "category": cat})
}

// CreateTopic opens a topic together with its first post.
func (fc *ForumController) CreateTopic(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	cat, ok := fc.findCategory(c, user)
	if !ok {
		return
	}
	var req topicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	html, err := markdown.Render(req.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to render body"})
		return
	}
	now := time.Now().UTC()
	topic := models.ForumTopic{
		CategoryID: cat.ID,
		ClubID:     cat.ClubID,
		AuthorID:   user.ID,
		Title:      strings.TrimSpace(req.Title),
		LastPostAt: now,
	}
	post := models.ForumPost{AuthorID: user.ID, Body: req.Body, BodyHTML: html}
	err = fc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&topic).Error; err != nil {
			return err
		}
		post.TopicID = topic.ID
		return tx.Create(&post).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"topic": topic, "post": post})
}

func (fc *ForumController) findTopic(c *gin.Context, user models.User) (models.ForumTopic, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return models.ForumTopic{}, false
	}
	var topic models.ForumTopic
	if err := fc.DB.Where("id = ?", id).First(&topic).Error; err != nil {
		respondDBError(c, err, "topic")
		return topic, false
	}
	if !canAccessClub(user, topic.ClubID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "topic not found"})
		return topic, false
	}
	return topic, true
}

// GetTopic returns a topic with a page of its posts, oldest first.
func (fc *ForumController) GetTopic(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	topic, ok := fc.findTopic(c, user)
	if !ok {
		return
	}
	p := parseListParams(c, 30, map[string]string{"created_at": "created_at"}, "created_at")
	p.SortDir = "ASC"

	base := fc.DB.Model(&models.ForumPost{}).Where("topic_id = ?", topic.ID)
	var total int64
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var posts []models.ForumPost
	if err := p.paginate(base).Find(&posts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	authorIDs := []string{topic.AuthorID}
	for _, post := range posts {
		authorIDs = append(authorIDs, post.AuthorID)
	}
	names := fc.authorNames(authorIDs)
	out := make([]gin.H, 0, len(posts))
	for _, post := range posts {
		out = append(out, gin.H{
			"id":          post.ID,
			"author_id":   post.AuthorID,
			"author_name": names[post.AuthorID],
			"body":        post.Body,
			"body_html":   post.BodyHTML,
			"edited_at":   post.EditedAt,
			"created_at":  post.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"topic":       topic,
		"author_name": names[topic.AuthorID],
		"data":        out,
		"meta":        p.meta(total),
	})
}

type flagRequest struct {
	Value *bool `json:"value"`
}

func (fc *ForumController) setTopicFlag(c *gin.Context, column string) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	topic, ok := fc.findTopic(c, user)
	if !ok {
		return
	}
	var req flagRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	value := true
	if req.Value != nil {
		value = *req.Value
	}
	if err := fc.DB.Model(&models.ForumTopic{}).Where("id = ?", topic.ID).Update(column, value).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if column == "pinned" {
		topic.Pinned = value
	} else {
		topic.Locked = value
	}
	c.JSON(http.StatusOK, topic)
}

// PinTopic sets the pinned flag; body {"value": false} unpins.
func (fc *ForumController) PinTopic(c *gin.Context) {
	fc.setTopicFlag(c, "pinned")
}

// LockTopic sets the locked flag; body {"value": false} unlocks.
func (fc *ForumController) LockTopic(c *gin.Context) {
	fc.setTopicFlag(c, "locked")
}

func canModerate(user models.User, authorID string) bool {
	return user.ID == authorID || isAdmin(user)
}

func (fc *ForumController) DeleteTopic(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	topic, ok := fc.findTopic(c, user)
	if !ok {
		return
	}
	if !canModerate(user, topic.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	err := fc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("topic_id = ?", topic.ID).Delete(&models.ForumPost{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", topic.ID).Delete(&models.ForumTopic{}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// Reply adds a post to an unlocked topic and notifies the topic author.
func (fc *ForumController) Reply(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	topic, ok := fc.findTopic(c, user)
	if !ok {
		return
	}
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	html, err := markdown.Render(req.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to render body"})
		return
	}

	post := models.ForumPost{TopicID: topic.ID, AuthorID: user.ID, Body: req.Body, BodyHTML: html}
	err = fc.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		// the locked check and the counter bump happen in one statement
		res := tx.Model(&models.ForumTopic{}).
			Where("id = ? AND locked = ?", topic.ID, false).
			Updates(map[string]any{
				"reply_count":  gorm.Expr("reply_count + 1"),
				"last_post_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTopicLocked
		}
		return tx.Create(&post).Error
	})
	if errors.Is(err, errTopicLocked) {
		c.JSON(http.StatusConflict, gin.H{"error": errTopicLocked.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if topic.AuthorID != user.ID && fc.Notify != nil {
		clubID := topic.ClubID
		if _, err := fc.Notify.User(c.Request.Context(), &clubID, topic.AuthorID, notify.Message{
			Kind:  models.NotifyForumReply,
			Title: fmt.Sprintf("%s replied to %q", user.FullName, topic.Title),
			Body:  truncate(req.Body, 280),
			Link:  "/forum/topics/" + topic.ID,
		}); err != nil && fc.Log != nil {
			fc.Log.Warn("failed to notify topic author", zap.String("topic_id", topic.ID), zap.Error(err))
		}
	}
	c.JSON(http.StatusCreated, post)
}

func (fc *ForumController) findPost(c *gin.Context, user models.User) (models.ForumPost, models.ForumTopic, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return models.ForumPost{}, models.ForumTopic{}, false
	}
	var post models.ForumPost
	if err := fc.DB.Where("id = ?", id).First(&post).Error; err != nil {
		respondDBError(c, err, "post")
		return post, models.ForumTopic{}, false
	}
	var topic models.ForumTopic
	if err := fc.DB.Where("id = ?", post.TopicID).First(&topic).Error; err != nil {
		respondDBError(c, err, "topic")
		return post, topic, false
	}
	if !canAccessClub(user, topic.ClubID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return post, topic, false
	}
	return post, topic, true
}

// EditPost lets the author change a post.
func (fc *ForumController) EditPost(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	post, topic, ok := fc.findPost(c, user)
	if !ok {
		return
	}
	if post.AuthorID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the author can edit a post"})
		return
	}
	if topic.Locked {
		c.JSON(http.StatusConflict, gin.H{"error": errTopicLocked.Error()})
		return
	}
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	html, err := markdown.Render(req.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to render body"})
		return
	}
	now := time.Now().UTC()
	post.Body = req.Body
	post.BodyHTML = html
	post.EditedAt = &now
	if err := fc.DB.Save(&post).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, post)
}

// DeletePost removes a reply. The opening post goes with its topic.
func (fc *ForumController) DeletePost(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	post, topic, ok := fc.findPost(c, user)
	if !ok {
		return
	}
	if !canModerate(user, post.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	var first models.ForumPost
	if err := fc.DB.Where("topic_id = ?", topic.ID).Order("created_at ASC").First(&first).Error; err != nil {
		respondDBError(c, err, "post")
		return
	}
	if first.ID == post.ID {
		c.JSON(http.StatusConflict, gin.H{"error": "the opening post can only be removed with its topic"})
		return
	}
	err := fc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", post.ID).Delete(&models.ForumPost{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.ForumTopic{}).Where("id = ? AND reply_count > 0", topic.ID).
			Update("reply_count", gorm.Expr("reply_count - 1")).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
