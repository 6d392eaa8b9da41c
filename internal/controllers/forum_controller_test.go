package controllers_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/clubhub_backend/internal/database"
	"github.com/zaqqye/clubhub_backend/internal/models"
)

// startTopic seeds the club forum and opens a topic as the member.
func (a *testAPI) startTopic() (topicID, firstPostID string) {
	a.t.Helper()
	require.NoError(a.t, database.SeedClubForum(a.db, a.club.ID))

	w := a.do(http.MethodGet, "/api/v1/forum/categories", &a.member, nil)
	require.Equal(a.t, http.StatusOK, w.Code)
	cats := decode(a.t, w)["data"].([]any)
	require.NotEmpty(a.t, cats)
	catID := cats[0].(map[string]any)["id"].(string)

	w = a.do(http.MethodPost, "/api/v1/forum/categories/"+catID+"/topics", &a.member, map[string]any{
		"title": "Coilover recommendations",
		"body":  "Looking for **street** setups <script>alert(1)</script>",
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(a.t, w)
	return body["topic"].(map[string]any)["id"].(string), body["post"].(map[string]any)["id"].(string)
}

func TestTopicRendersSanitizedMarkdown(t *testing.T) {
	a := newAPI(t)
	topicID, _ := a.startTopic()

	w := a.do(http.MethodGet, "/api/v1/forum/topics/"+topicID, &a.member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	posts := decode(t, w)["data"].([]any)
	require.Len(t, posts, 1)
	html := posts[0].(map[string]any)["body_html"].(string)
	assert.Contains(t, html, "<strong>street</strong>")
	assert.NotContains(t, html, "<script>")
}

func TestReplyNotifiesAuthor(t *testing.T) {
	a := newAPI(t)
	topicID, _ := a.startTopic()

	w := a.do(http.MethodPost, "/api/v1/forum/topics/"+topicID+"/posts", &a.admin, map[string]any{"body": "Try the BC Racing kit."})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var topic models.ForumTopic
	require.NoError(t, a.db.First(&topic, "id = ?", topicID).Error)
	assert.Equal(t, 1, topic.ReplyCount)

	w = a.do(http.MethodGet, "/api/v1/notifications/unread-count", &a.member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["unread"])

	w = a.do(http.MethodGet, "/api/v1/notifications?kind="+models.NotifyForumReply, &a.member, nil)
	list := decode(t, w)["data"].([]any)
	require.Len(t, list, 1)
	nID := list[0].(map[string]any)["id"].(string)

	w = a.do(http.MethodPost, "/api/v1/notifications/"+nID+"/read", &a.member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodGet, "/api/v1/notifications/unread-count", &a.member, nil)
	assert.EqualValues(t, 0, decode(t, w)["unread"])

	// replying to your own topic does not notify
	w = a.do(http.MethodPost, "/api/v1/forum/topics/"+topicID+"/posts", &a.member, map[string]any{"body": "Thanks!"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = a.do(http.MethodGet, "/api/v1/notifications/unread-count", &a.member, nil)
	assert.EqualValues(t, 0, decode(t, w)["unread"])
}

func TestLockedTopicRejectsReplies(t *testing.T) {
	a := newAPI(t)
	topicID, firstPostID := a.startTopic()

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/api/v1/forum/topics/"+topicID+"/lock", &a.member, nil).Code)
	w := a.do(http.MethodPost, "/api/v1/forum/topics/"+topicID+"/lock", &a.admin, map[string]any{"value": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["locked"])

	w = a.do(http.MethodPost, "/api/v1/forum/topics/"+topicID+"/posts", &a.admin, map[string]any{"body": "too late"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = a.do(http.MethodPut, "/api/v1/forum/posts/"+firstPostID, &a.member, map[string]any{"body": "edit"})
	assert.Equal(t, http.StatusConflict, w.Code)

	var topic models.ForumTopic
	require.NoError(t, a.db.First(&topic, "id = ?", topicID).Error)
	assert.Equal(t, 0, topic.ReplyCount)

	w = a.do(http.MethodPost, "/api/v1/forum/topics/"+topicID+"/lock", &a.admin, map[string]any{"value": false})
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodPost, "/api/v1/forum/topics/"+topicID+"/posts", &a.admin, map[string]any{"body": "open again"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTopicFlagRejectsMalformedBody(t *testing.T) {
	a := newAPI(t)
	topicID, _ := a.startTopic()
	lock := "/api/v1/forum/topics/" + topicID + "/lock"

	w := a.do(http.MethodPost, lock, &a.admin, strings.NewReader(`{"value":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(http.MethodPost, lock, &a.admin, strings.NewReader(`{"value":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var topic models.ForumTopic
	require.NoError(t, a.db.First(&topic, "id = ?", topicID).Error)
	assert.False(t, topic.Locked)

	// no body sets the flag
	w = a.do(http.MethodPost, lock, &a.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["locked"])
}

func TestDeletePosts(t *testing.T) {
	a := newAPI(t)
	topicID, firstPostID := a.startTopic()

	w := a.do(http.MethodPost, "/api/v1/forum/topics/"+topicID+"/posts", &a.admin, map[string]any{"body": "reply"})
	require.Equal(t, http.StatusCreated, w.Code)
	replyID := decode(t, w)["id"].(string)

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodDelete, "/api/v1/forum/posts/"+replyID, &a.member, nil).Code)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodDelete, "/api/v1/forum/posts/"+firstPostID, &a.member, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/v1/forum/posts/"+replyID, &a.admin, nil).Code)

	var topic models.ForumTopic
	require.NoError(t, a.db.First(&topic, "id = ?", topicID).Error)
	assert.Equal(t, 0, topic.ReplyCount)

	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/v1/forum/topics/"+topicID, &a.member, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/forum/topics/"+topicID, &a.member, nil).Code)
}

func TestForumHiddenFromOtherClubs(t *testing.T) {
	a := newAPI(t)
	topicID, _ := a.startTopic()
	other := a.otherClubAdmin()
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/forum/topics/"+topicID, &other, nil).Code)
}
