package controllers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/utils"
)

type UserController struct {
	DB  *gorm.DB
	Log *zap.Logger
}

type userImportError struct {
	Row   int    `json:"row"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

func parseBoolDefaultTrue(val string) (bool, bool) {
	if val == "" {
		return true, false
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "y", "active":
		return true, true
	case "false", "0", "no", "n", "inactive":
		return false, true
	default:
		return true, false
	}
}

func userJSON(u models.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"user_id":       u.ID,
		"club_id":       u.ClubID,
		"full_name":     u.FullName,
		"email":         u.Email,
		"role":          u.Role,
		"active":        u.Active,
		"last_login_at": u.LastLoginAt,
		"created_at":    u.CreatedAt,
		"updated_at":    u.UpdatedAt,
	}
}

// ImportUsers bulk-creates club members from a CSV upload.
// Header columns (case-insensitive): full_name, email, password, role (optional), active (optional).
func (a *UserController) ImportUsers(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(10 << 20); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse form"})
		return
	}
	clubID, ok := targetClub(actor, c.Request.FormValue("club_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "club_id is required"})
		return
	}
	if err := a.DB.Where("id = ?", clubID).First(&models.Club{}).Error; err != nil {
		respondDBError(c, err, "club")
		return
	}

	file, fileHeader, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	filename := strings.ToLower(strings.TrimSpace(fileHeader.Filename))
	if !strings.HasSuffix(filename, ".csv") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .csv files are allowed"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
		return
	}

	data = bytes.ReplaceAll(data, []byte{'\r', '\n'}, []byte{'\n'})
	data = bytes.ReplaceAll(data, []byte{'\r'}, []byte{'\n'})
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	firstLineEnd := bytes.IndexByte(data, '\n')
	if firstLineEnd == -1 {
		firstLineEnd = len(data)
	}
	firstLine := data[:firstLineEnd]

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	if bytes.Contains(firstLine, []byte{';'}) && !bytes.Contains(firstLine, []byte{','}) {
		reader.Comma = ';'
	}

	header, err := reader.Read()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read header"})
		return
	}
	headerIdx := make(map[string]int, len(header))
	for idx, col := range header {
		key := strings.ToLower(strings.Trim(strings.TrimSpace(col), "\"'\ufeff"))
		if key != "" {
			headerIdx[key] = idx
		}
	}
	for _, key := range []string{"full_name", "email", "password"} {
		if _, ok := headerIdx[key]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("missing header column: %s", key)})
			return
		}
	}
	getVal := func(record []string, key string) string {
		idx, ok := headerIdx[key]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var (
		totalRows   int
		createdRows int
		failures    = []userImportError{}
	)
	rowNum := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			failures = append(failures, userImportError{Row: rowNum, Error: fmt.Sprintf("failed to read row: %v", err)})
			continue
		}
		totalRows++

		fullName := getVal(row, "full_name")
		email := strings.ToLower(getVal(row, "email"))
		password := getVal(row, "password")
		role := strings.ToLower(getVal(row, "role"))
		activeStr := getVal(row, "active")

		fail := func(msg string) {
			failures = append(failures, userImportError{Row: rowNum, Email: email, Error: msg})
		}
		if fullName == "" || email == "" || password == "" {
			fail("full_name, email, and password are required")
			continue
		}
		if len(password) < 8 {
			fail("password must be at least 8 characters")
			continue
		}
		if role == "" {
			role = models.RoleMember
		}
		if role == models.RoleSuperAdmin || !canAssignRole(actor, role) {
			fail("invalid role")
			continue
		}
		activeVal, provided := parseBoolDefaultTrue(activeStr)
		if activeStr != "" && !provided {
			fail("invalid active value")
			continue
		}

		if existingErr := a.DB.Where("email = ?", email).First(&models.User{}).Error; existingErr == nil {
			fail("email already exists")
			continue
		} else if !errors.Is(existingErr, gorm.ErrRecordNotFound) {
			fail(fmt.Sprintf("failed to check existing user: %v", existingErr))
			continue
		}

		hashed, hashErr := utils.HashPassword(password)
		if hashErr != nil {
			fail(fmt.Sprintf("failed to hash password: %v", hashErr))
			continue
		}
		cid := clubID
		user := models.User{
			ClubID:   &cid,
			FullName: fullName,
			Email:    email,
			Password: hashed,
			Role:     role,
			Active:   activeVal,
		}
		if err := a.DB.Create(&user).Error; err != nil {
			fail(fmt.Sprintf("failed to insert user: %v", err))
			continue
		}
		createdRows++
	}

	if a.Log != nil {
		a.Log.Info("users imported",
			zap.String("club_id", clubID),
			zap.Int("inserted", createdRows),
			zap.Int("failed", len(failures)))
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": gin.H{
			"total_rows": totalRows,
			"inserted":   createdRows,
			"failed":     len(failures),
		},
		"errors": failures,
	})
}

func (a *UserController) ListUsers(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	p := parseListParams(c, 50, map[string]string{
		"id":            "id",
		"created_at":    "created_at",
		"full_name":     "full_name",
		"email":         "email",
		"role":          "role",
		"active":        "active",
		"last_login_at": "last_login_at",
	}, "created_at")

	role := strings.TrimSpace(strings.ToLower(c.Query("role")))
	activeStr := strings.TrimSpace(strings.ToLower(c.Query("active")))

	base := scopeClub(c, a.DB.Model(&models.User{}), actor, "club_id")
	if p.Q != "" {
		like := "%" + strings.ToLower(p.Q) + "%"
		base = base.Where("LOWER(full_name) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}
	if role != "" {
		if !IsValidRole(role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		base = base.Where("role = ?", role)
	}
	if activeStr != "" {
		active, ok := parseBoolFilter(activeStr)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active value"})
			return
		}
		base = base.Where("active = ?", active)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var users []models.User
	if err := p.paginate(base).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, userJSON(u))
	}
	meta := p.meta(total)
	if role != "" {
		meta["role"] = role
	}
	if activeStr != "" {
		meta["active"] = activeStr
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": meta})
}

// findScopedUser loads the user from the path, hiding users of other clubs.
func (a *UserController) findScopedUser(c *gin.Context, actor models.User) (models.User, bool) {
	userID, ok := paramID(c, "user_id")
	if !ok {
		return models.User{}, false
	}
	var u models.User
	if err := a.DB.Where("id = ?", userID).First(&u).Error; err != nil {
		respondDBError(c, err, "user")
		return models.User{}, false
	}
	if !isSuperAdmin(actor) && (u.ClubID == nil || !actor.InClub(*u.ClubID) || u.Role == models.RoleSuperAdmin) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return models.User{}, false
	}
	return u, true
}

func (a *UserController) GetUser(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	u, ok := a.findScopedUser(c, actor)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, userJSON(u))
}

type createUserRequest struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
	ClubID   string `json:"club_id"`
	Active   *bool  `json:"active"`
}

func (a *UserController) CreateUser(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = models.RoleMember
	}
	if !canAssignRole(actor, role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	var clubID *string
	if role != models.RoleSuperAdmin {
		id, ok := targetClub(actor, req.ClubID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "club_id is required"})
			return
		}
		if err := a.DB.Where("id = ?", id).First(&models.Club{}).Error; err != nil {
			respondDBError(c, err, "club")
			return
		}
		clubID = &id
	}

	pw, err := utils.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user := models.User{
		ClubID:   clubID,
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: pw,
		Role:     role,
		Active:   active,
	}
	if err := a.DB.Create(&user).Error; err != nil {
		respondDBError(c, err, "user")
		return
	}
	c.JSON(http.StatusCreated, userJSON(user))
}

type updateUserRequest struct {
	FullName *string         `json:"full_name"`
	Email    *string         `json:"email"`
	Password *FlexibleString `json:"password"`
	Role     *string         `json:"role"`
	Active   *bool           `json:"active"`
}

func (a *UserController) UpdateUser(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	u, ok := a.findScopedUser(c, actor)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.FullName != nil {
		u.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*req.Role))
		if !canAssignRole(actor, role) || (role == models.RoleSuperAdmin) != (u.ClubID == nil) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		u.Role = role
	}
	if req.Active != nil {
		if !*req.Active && u.ID == actor.ID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot deactivate yourself"})
			return
		}
		u.Active = *req.Active
	}
	if raw := strings.TrimSpace(req.Password.String()); raw != "" {
		if len(raw) < 8 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
			return
		}
		pw, err := utils.HashPassword(raw)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
			return
		}
		u.Password = pw
	}

	if err := a.DB.Save(&u).Error; err != nil {
		respondDBError(c, err, "user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated", "user": userJSON(u)})
}

func (a *UserController) DeleteUser(c *gin.Context) {
	actor, ok := currentUser(c)
	if !ok {
		return
	}
	u, ok := a.findScopedUser(c, actor)
	if !ok {
		return
	}
	if u.ID == actor.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete yourself"})
		return
	}
	err := a.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id_ref = ?", u.ID).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", u.ID).Delete(&models.User{}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
