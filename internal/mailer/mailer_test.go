package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zaqqye/clubhub_backend/internal/config"
)

func TestNewFallsBackToLogMailer(t *testing.T) {
	m, err := New(&config.Config{}, zap.NewNop())
	require.NoError(t, err)
	lm, ok := m.(*LogMailer)
	require.True(t, ok)

	require.NoError(t, lm.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "hi"}))
	assert.Len(t, lm.Sent(), 1)
	assert.Equal(t, "hi", lm.Sent()[0].Subject)
}

func TestNewBuildsSMTPMailer(t *testing.T) {
	m, err := New(&config.Config{SMTPHost: "smtp.example.com", SMTPPort: 2525, SMTPUser: "u", SMTPPassword: "p", SMTPFrom: "club@example.com"}, zap.NewNop())
	require.NoError(t, err)
	_, ok := m.(*SMTPMailer)
	assert.True(t, ok)
}
