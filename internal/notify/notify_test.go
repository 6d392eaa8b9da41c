package notify_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zaqqye/clubhub_backend/internal/mailer"
	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/testutil"
)

type recordingPusher struct {
	mu    sync.Mutex
	users []string
}

func (p *recordingPusher) NotifyUser(userID string, n models.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
}

func TestClubAdminsPushesToActiveAdmins(t *testing.T) {
	db := testutil.NewDB(t)
	club := testutil.CreateClub(t, db, "Torque Club")
	admin := testutil.CreateUser(t, db, "admin@torque.example", models.RoleAdmin, &club.ID)
	testutil.CreateUser(t, db, "member@torque.example", models.RoleMember, &club.ID)

	pusher := &recordingPusher{}
	svc := &notify.Service{DB: db, Push: pusher}

	n, err := svc.ClubAdmins(context.Background(), club.ID, notify.Message{
		Kind:  models.NotifyContactMessage,
		Title: "New message",
	})
	require.NoError(t, err)
	assert.Nil(t, n.UserID)
	assert.Equal(t, []string{admin.ID}, pusher.users)
}

func TestVisibleTo(t *testing.T) {
	db := testutil.NewDB(t)
	club := testutil.CreateClub(t, db, "Boost Club")
	admin := testutil.CreateUser(t, db, "admin@boost.example", models.RoleAdmin, &club.ID)
	member := testutil.CreateUser(t, db, "member@boost.example", models.RoleMember, &club.ID)

	svc := &notify.Service{DB: db}
	ctx := context.Background()
	_, err := svc.ClubAdmins(ctx, club.ID, notify.Message{Kind: models.NotifyBackupCompleted, Title: "Backup"})
	require.NoError(t, err)
	_, err = svc.User(ctx, &club.ID, member.ID, notify.Message{Kind: models.NotifyForumReply, Title: "Reply"})
	require.NoError(t, err)

	var adminCount, memberCount int64
	require.NoError(t, notify.VisibleTo(db.Model(&models.Notification{}), admin).Count(&adminCount).Error)
	require.NoError(t, notify.VisibleTo(db.Model(&models.Notification{}), member).Count(&memberCount).Error)
	assert.Equal(t, int64(1), adminCount)
	assert.Equal(t, int64(1), memberCount)
}

func TestEmailClub(t *testing.T) {
	m := mailer.NewLogMailer(zap.NewNop())
	svc := &notify.Service{Mailer: m}
	svc.EmailClub(context.Background(), models.Club{ID: "c1", ContactEmail: "club@example.com"}, "Hi", "Body", "fan@example.com")

	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"club@example.com"}, sent[0].To)
	assert.Equal(t, "fan@example.com", sent[0].ReplyTo)
}
