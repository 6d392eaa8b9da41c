package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/clubhub_backend/internal/config"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage(t.TempDir(), "http://localhost:8080/media/")

	n, err := s.Put(ctx, "gallery/club-1/photo.jpg", strings.NewReader("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.EqualValues(t, len("jpeg-bytes"), n)

	rc, err := s.Open(ctx, "gallery/club-1/photo.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	assert.Equal(t, "http://localhost:8080/media/gallery/club-1/photo.jpg", s.URL("gallery/club-1/photo.jpg"))

	require.NoError(t, s.Delete(ctx, "gallery/club-1/photo.jpg"))
	_, err = s.Open(ctx, "gallery/club-1/photo.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "gallery/club-1/photo.jpg"), ErrNotFound)
}

func TestLocalStorageConfinesKeys(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStorage(root, "")

	name, err := s.fixPath("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, root))

	_, err = s.fixPath("/")
	assert.Error(t, err)
}

func TestNewSelectsLocal(t *testing.T) {
	s, err := New(&config.Config{StorageBackend: "local", StorageRoot: t.TempDir(), PublicBaseURL: "https://api.example"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example/media/a/b.png", s.URL("a/b.png"))

	_, err = New(&config.Config{StorageBackend: "s3"})
	assert.Error(t, err)
}
