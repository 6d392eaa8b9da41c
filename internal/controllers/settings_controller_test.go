package controllers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

func TestUpdateSettingsUpserts(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.db.Create(&models.AppSetting{Key: "signup_enabled", Value: "true", Description: "Allow signups"}).Error)

	w := a.do(http.MethodPut, "/api/v1/admin/settings", &a.super, map[string]any{
		"settings": []map[string]any{
			{"key": "signup_enabled", "value": false},
			{"key": "max_gallery_images", "value": 250, "description": "Per club"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, "/api/v1/admin/settings", &a.super, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := map[string]map[string]any{}
	for _, s := range decode(t, w)["data"].([]any) {
		m := s.(map[string]any)
		got[m["key"].(string)] = m
	}
	assert.Equal(t, "false", got["signup_enabled"]["value"])
	assert.Equal(t, "Allow signups", got["signup_enabled"]["description"])
	assert.Equal(t, "250", got["max_gallery_images"]["value"])

	w = a.do(http.MethodPut, "/api/v1/admin/settings", &a.super, map[string]any{"settings": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPut, "/api/v1/admin/settings", &a.admin, nil).Code)
}
