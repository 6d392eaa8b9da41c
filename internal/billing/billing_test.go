package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
	"github.com/zaqqye/clubhub_backend/internal/testutil"
)

type fakeProvider struct {
	name      string
	cancelled []string
	event     Event
	parseErr  error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Subscribe(_ context.Context, club models.Club, returnURL, _ string) (Checkout, error) {
	return Checkout{Provider: f.name, SubscriptionID: "I-" + club.Slug, URL: "https://pay.example/approve?return=" + returnURL}, nil
}

func (f *fakeProvider) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeProvider) ParseWebhook(context.Context, *http.Request, []byte) (Event, error) {
	return f.event, f.parseErr
}

func TestProviderLookup(t *testing.T) {
	s := NewService(nil, nil, zap.NewNop())
	s.Register(&fakeProvider{name: ProviderPayPal})

	_, err := s.Provider(ProviderStripe)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.Provider("bitcoin")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	p, err := s.Provider(ProviderPayPal)
	require.NoError(t, err)
	assert.Equal(t, ProviderPayPal, p.Name())
	assert.Equal(t, []string{ProviderPayPal}, s.Configured())
}

func TestSubscribeWebhookCancelFlow(t *testing.T) {
	db := testutil.NewDB(t)
	club := testutil.CreateClub(t, db, "Torque Club")
	testutil.CreateUser(t, db, "admin@torque.example", models.RoleAdmin, &club.ID)
	provider := &fakeProvider{name: ProviderPayPal}
	s := NewService(db, &notify.Service{DB: db}, zap.NewNop())
	s.Register(provider)
	ctx := context.Background()

	checkout, err := s.Subscribe(ctx, club.ID, ProviderPayPal, "https://app.example/billing", "https://app.example/billing")
	require.NoError(t, err)
	assert.Equal(t, "I-torque-club", checkout.SubscriptionID)

	var reloaded models.Club
	require.NoError(t, db.First(&reloaded, "id = ?", club.ID).Error)
	assert.Equal(t, models.SubscriptionPending, reloaded.SubscriptionStatus)
	assert.Equal(t, ProviderPayPal, reloaded.BillingProvider)

	provider.event = Event{ID: "WH-1", Type: "BILLING.SUBSCRIPTION.ACTIVATED", SubscriptionID: "I-torque-club", Status: models.SubscriptionActive}
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", nil)
	applied, err := s.HandleWebhook(ctx, ProviderPayPal, req, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.HandleWebhook(ctx, ProviderPayPal, req, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, applied, "redelivery must be ignored")

	require.NoError(t, db.First(&reloaded, "id = ?", club.ID).Error)
	assert.Equal(t, models.SubscriptionActive, reloaded.SubscriptionStatus)

	var events int64
	require.NoError(t, db.Model(&models.BillingEvent{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)

	var notes int64
	require.NoError(t, db.Model(&models.Notification{}).Where("kind = ?", models.NotifyBillingStatus).Count(&notes).Error)
	assert.Equal(t, int64(1), notes)

	_, err = s.Subscribe(ctx, club.ID, ProviderPayPal, "", "")
	assert.ErrorIs(t, err, ErrAlreadyActive)

	cancelled, err := s.Cancel(ctx, club.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, cancelled.SubscriptionStatus)
	assert.Equal(t, []string{"I-torque-club"}, provider.cancelled)

	_, err = s.Cancel(ctx, club.ID)
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := NewService(nil, nil, zap.NewNop())
	s.Register(&fakeProvider{name: ProviderStripe, parseErr: ErrInvalidSignature})
	_, err := s.HandleWebhook(context.Background(), ProviderStripe, httptest.NewRequest(http.MethodPost, "/", nil), nil)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestPayPalStatus(t *testing.T) {
	cases := map[string]string{
		"BILLING.SUBSCRIPTION.ACTIVATED":      models.SubscriptionActive,
		"BILLING.SUBSCRIPTION.RE-ACTIVATED":   models.SubscriptionActive,
		"BILLING.SUBSCRIPTION.SUSPENDED":      models.SubscriptionSuspended,
		"BILLING.SUBSCRIPTION.PAYMENT.FAILED": models.SubscriptionSuspended,
		"BILLING.SUBSCRIPTION.CANCELLED":      models.SubscriptionCancelled,
		"BILLING.SUBSCRIPTION.EXPIRED":        models.SubscriptionCancelled,
		"PAYMENT.SALE.COMPLETED":              "",
	}
	for eventType, want := range cases {
		assert.Equal(t, want, PayPalStatus(eventType), eventType)
	}
}

func TestParsePayPalEvent(t *testing.T) {
	ev, err := parsePayPalEvent([]byte(`{
		"id": "WH-77",
		"event_type": "BILLING.SUBSCRIPTION.SUSPENDED",
		"resource": {"id": "I-ABC", "custom_id": "club-1", "status": "SUSPENDED"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, Event{ID: "WH-77", Type: "BILLING.SUBSCRIPTION.SUSPENDED", SubscriptionID: "I-ABC", ClubID: "club-1", Status: models.SubscriptionSuspended}, ev)

	_, err = parsePayPalEvent([]byte(`{"resource":{}}`))
	assert.Error(t, err)
}

func signStripe(payload, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeParseWebhook(t *testing.T) {
	p := NewStripe("sk_test_123", "price_1", "whsec_test")
	payload := `{"id":"evt_1","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","object":"subscription","status":"past_due","metadata":{"club_id":"club-1"}}}}`

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripe(payload, "whsec_test", time.Now()))
	ev, err := p.ParseWebhook(context.Background(), req, []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "club-1", ev.ClubID)
	assert.Equal(t, models.SubscriptionSuspended, ev.Status)

	req.Header.Set("Stripe-Signature", signStripe(payload, "wrong", time.Now()))
	_, err = p.ParseWebhook(context.Background(), req, []byte(payload))
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestStripeEventMapping(t *testing.T) {
	ev := stripeEvent("evt_2", "checkout.session.completed", []byte(`{"mode":"subscription","subscription":"sub_9","client_reference_id":"club-9"}`))
	assert.Equal(t, Event{ID: "evt_2", Type: "checkout.session.completed", SubscriptionID: "sub_9", ClubID: "club-9", Status: models.SubscriptionActive}, ev)

	ev = stripeEvent("evt_3", "customer.subscription.deleted", []byte(`{"id":"sub_9","status":"canceled"}`))
	assert.Equal(t, models.SubscriptionCancelled, ev.Status)

	ev = stripeEvent("evt_4", "invoice.payment_failed", []byte(`{"subscription":"sub_9"}`))
	assert.Equal(t, models.SubscriptionSuspended, ev.Status)
	assert.Equal(t, "sub_9", ev.SubscriptionID)

	ev = stripeEvent("evt_5", "customer.created", []byte(`{}`))
	assert.Empty(t, ev.Status)
}
