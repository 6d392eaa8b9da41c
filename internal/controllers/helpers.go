package controllers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/middleware"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

// listParams holds the common limit/page/all/sort_by/sort_dir/q query parameters.
type listParams struct {
	All     bool
	Limit   int
	Page    int
	SortCol string
	SortDir string
	Q       string
}

func parseListParams(c *gin.Context, defaultLimit int, allowedSorts map[string]string, defaultSort string) listParams {
	p := listParams{
		All:   strings.EqualFold(c.Query("all"), "true") || c.Query("all") == "1",
		Limit: defaultLimit,
		Page:  1,
		Q:     strings.TrimSpace(c.Query("q")),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Page = n
		}
	}

	sortBy := strings.ToLower(c.DefaultQuery("sort_by", defaultSort))
	p.SortDir = strings.ToUpper(c.DefaultQuery("sort_dir", "DESC"))
	if p.SortDir != "ASC" && p.SortDir != "DESC" {
		p.SortDir = "DESC"
	}
	col, ok := allowedSorts[sortBy]
	if !ok {
		col = allowedSorts[defaultSort]
	}
	p.SortCol = col
	return p
}

func (p listParams) order() string {
	return fmt.Sprintf("%s %s", p.SortCol, p.SortDir)
}

// paginate applies ordering and, unless all=true, offset/limit.
func (p listParams) paginate(q *gorm.DB) *gorm.DB {
	q = q.Order(p.order())
	if !p.All {
		q = q.Offset((p.Page - 1) * p.Limit).Limit(p.Limit)
	}
	return q
}

func (p listParams) meta(total int64) gin.H {
	meta := gin.H{"total": total, "all": p.All}
	if !p.All {
		meta["limit"] = p.Limit
		meta["page"] = p.Page
		meta["sort_by"] = p.SortCol
		meta["sort_dir"] = p.SortDir
	}
	if p.Q != "" {
		meta["q"] = p.Q
	}
	return meta
}

// parseBoolFilter reads true/false/1/0 query values. ok is false for anything else.
func parseBoolFilter(v string) (val bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// respondDBError maps ORM errors onto 404/409/500 JSON responses.
func respondDBError(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
	case isUniqueViolation(err):
		c.JSON(http.StatusConflict, gin.H{"error": what + " already exists"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func currentUser(c *gin.Context) (models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return user, ok
}

func isSuperAdmin(u models.User) bool {
	return u.Role == models.RoleSuperAdmin
}

func isAdmin(u models.User) bool {
	return u.Role == models.RoleAdmin || u.Role == models.RoleSuperAdmin
}

func clubIDOf(u models.User) string {
	if u.ClubID == nil {
		return ""
	}
	return *u.ClubID
}

// scopeClub restricts q to the user's club. Superadmins see every club,
// optionally narrowed with ?club_id=.
func scopeClub(c *gin.Context, q *gorm.DB, user models.User, column string) *gorm.DB {
	if isSuperAdmin(user) {
		if id := strings.TrimSpace(c.Query("club_id")); id != "" {
			return q.Where(column+" = ?", id)
		}
		return q
	}
	return q.Where(column+" = ?", clubIDOf(user))
}

// canAccessClub reports whether user may act on rows of clubID.
func canAccessClub(user models.User, clubID string) bool {
	return isSuperAdmin(user) || user.InClub(clubID)
}

// targetClub resolves the club a create request applies to: the caller's
// own club, or the requested one for superadmins.
func targetClub(user models.User, requested string) (string, bool) {
	if isSuperAdmin(user) {
		requested = strings.TrimSpace(requested)
		return requested, requested != ""
	}
	id := clubIDOf(user)
	return id, id != ""
}

// bindOptionalJSON binds a body that may be omitted. Malformed JSON is
// answered with 400 and reported as false.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
