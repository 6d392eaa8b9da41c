package controllers_test

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/testutil"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func TestGalleryUploadServeDelete(t *testing.T) {
	a := newAPI(t)

	w := a.upload("/api/v1/gallery", &a.member, map[string]string{"caption": "Cars and coffee"}, "meet.png", pngData)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	img := decode(t, w)
	assert.Equal(t, "image/png", img["content_type"])
	assert.Equal(t, "meet", img["title"])
	assert.EqualValues(t, len(pngData), img["size"])
	url := img["url"].(string)
	require.True(t, strings.HasPrefix(url, "http://api.test/media/gallery/"+a.club.ID+"/"), url)

	w = a.do(http.MethodGet, strings.TrimPrefix(url, "http://api.test"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngData, w.Body.Bytes())

	w = a.do(http.MethodGet, "/api/public/clubs/"+a.club.Slug+"/gallery", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	id := img["id"].(string)
	bystander := testutil.CreateUser(t, a.db, "bystander@miata.test", models.RoleMember, &a.club.ID)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodDelete, "/api/v1/gallery/"+id, &bystander, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/v1/gallery/"+id, &a.admin, nil).Code)

	w = a.do(http.MethodGet, strings.TrimPrefix(url, "http://api.test"), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGalleryRejectsNonImages(t *testing.T) {
	a := newAPI(t)
	w := a.upload("/api/v1/gallery", &a.member, nil, "notes.png", []byte("just some text, not an image"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	var count int64
	a.db.Model(&models.GalleryImage{}).Count(&count)
	assert.Zero(t, count)
}

func TestGalleryQuota(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.db.Create(&models.AppSetting{Key: "max_gallery_images", Value: "1"}).Error)

	require.Equal(t, http.StatusCreated, a.upload("/api/v1/gallery", &a.member, nil, "a.png", pngData).Code)
	assert.Equal(t, http.StatusConflict, a.upload("/api/v1/gallery", &a.member, nil, "b.png", pngData).Code)
}
