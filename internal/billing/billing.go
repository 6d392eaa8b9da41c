// Package billing manages club subscriptions with PayPal and Stripe.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zaqqye/clubhub_backend/internal/models"
	"github.com/zaqqye/clubhub_backend/internal/notify"
)

const (
	ProviderPayPal = "paypal"
	ProviderStripe = "stripe"
)

var (
	ErrNotConfigured    = errors.New("billing provider is not configured")
	ErrUnknownProvider  = errors.New("unknown billing provider")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrAlreadyActive    = errors.New("club already has an active subscription")
	ErrNoSubscription   = errors.New("club has no subscription to cancel")
)

// Checkout is where the club admin approves the subscription.
type Checkout struct {
	Provider       string `json:"provider"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	URL            string `json:"approval_url"`
}

// Event is a verified webhook mapped onto the club subscription states.
// Status is empty for events that do not change the subscription.
type Event struct {
	ID             string
	Type           string
	SubscriptionID string
	ClubID         string
	Status         string
}

type Provider interface {
	Name() string
	Subscribe(ctx context.Context, club models.Club, returnURL, cancelURL string) (Checkout, error)
	Cancel(ctx context.Context, subscriptionID string) error
	// ParseWebhook verifies the request signature and decodes body.
	ParseWebhook(ctx context.Context, r *http.Request, body []byte) (Event, error)
}

type Service struct {
	db        *gorm.DB
	notify    *notify.Service
	log       *zap.Logger
	providers map[string]Provider
}

func NewService(db *gorm.DB, n *notify.Service, log *zap.Logger) *Service {
	return &Service{db: db, notify: n, log: log, providers: map[string]Provider{}}
}

func (s *Service) Register(p Provider) {
	s.providers[p.Name()] = p
}

// Provider returns the configured provider called name.
func (s *Service) Provider(name string) (Provider, error) {
	if name != ProviderPayPal && name != ProviderStripe {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	return p, nil
}

// Configured lists the names of registered providers.
func (s *Service) Configured() []string {
	var out []string
	for _, name := range []string{ProviderPayPal, ProviderStripe} {
		if _, ok := s.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Subscribe starts a subscription and leaves the club pending until the
// provider confirms it through a webhook.
func (s *Service) Subscribe(ctx context.Context, clubID, provider, returnURL, cancelURL string) (Checkout, error) {
	p, err := s.Provider(provider)
	if err != nil {
		return Checkout{}, err
	}
	var club models.Club
	if err := s.db.WithContext(ctx).First(&club, "id = ?", clubID).Error; err != nil {
		return Checkout{}, err
	}
	if club.SubscriptionStatus == models.SubscriptionActive {
		return Checkout{}, ErrAlreadyActive
	}
	checkout, err := p.Subscribe(ctx, club, returnURL, cancelURL)
	if err != nil {
		return Checkout{}, fmt.Errorf("%s: %w", provider, err)
	}
	err = s.db.WithContext(ctx).Model(&club).Updates(map[string]any{
		"billing_provider":    provider,
		"subscription_id":     checkout.SubscriptionID,
		"subscription_status": models.SubscriptionPending,
	}).Error
	if err != nil {
		return Checkout{}, err
	}
	return checkout, nil
}

// Cancel cancels the club's subscription at the provider.
func (s *Service) Cancel(ctx context.Context, clubID string) (models.Club, error) {
	var club models.Club
	if err := s.db.WithContext(ctx).First(&club, "id = ?", clubID).Error; err != nil {
		return club, err
	}
	switch club.SubscriptionStatus {
	case models.SubscriptionActive, models.SubscriptionPending, models.SubscriptionSuspended:
	default:
		return club, ErrNoSubscription
	}
	if club.SubscriptionID != "" {
		p, err := s.Provider(club.BillingProvider)
		if err != nil {
			return club, err
		}
		if err := p.Cancel(ctx, club.SubscriptionID); err != nil {
			return club, fmt.Errorf("%s: %w", club.BillingProvider, err)
		}
	}
	if err := s.db.WithContext(ctx).Model(&club).Update("subscription_status", models.SubscriptionCancelled).Error; err != nil {
		return club, err
	}
	club.SubscriptionStatus = models.SubscriptionCancelled
	return club, nil
}

// HandleWebhook verifies and applies a provider event. Redelivered events
// are acknowledged without being applied again.
func (s *Service) HandleWebhook(ctx context.Context, provider string, r *http.Request, body []byte) (bool, error) {
	p, err := s.Provider(provider)
	if err != nil {
		return false, err
	}
	ev, err := p.ParseWebhook(ctx, r, body)
	if err != nil {
		return false, err
	}
	return s.Apply(ctx, provider, ev, body)
}

// Apply records ev and updates the matching club.
func (s *Service) Apply(ctx context.Context, provider string, ev Event, payload []byte) (bool, error) {
	var (
		club    models.Club
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seen int64
		if err := tx.Model(&models.BillingEvent{}).
			Where("provider = ? AND event_id = ?", provider, ev.ID).Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			return errDuplicate
		}

		found, err := findClub(tx, ev)
		if err != nil {
			return err
		}
		record := models.BillingEvent{Provider: provider, EventID: ev.ID, Type: ev.Type, Payload: payload}
		if found != nil {
			club = *found
			record.ClubID = &club.ID
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if found == nil || ev.Status == "" {
			return nil
		}

		updates := map[string]any{"subscription_status": ev.Status, "billing_provider": provider}
		if ev.SubscriptionID != "" {
			updates["subscription_id"] = ev.SubscriptionID
		}
		if err := tx.Model(&club).Updates(updates).Error; err != nil {
			return err
		}
		changed = club.SubscriptionStatus != ev.Status
		club.SubscriptionStatus = ev.Status
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if changed {
		s.log.Info("subscription status changed",
			zap.String("club_id", club.ID),
			zap.String("provider", provider),
			zap.String("status", club.SubscriptionStatus))
		if s.notify != nil {
			if _, err := s.notify.ClubAdmins(ctx, club.ID, notify.Message{
				Kind:  models.NotifyBillingStatus,
				Title: "Subscription " + club.SubscriptionStatus,
				Body:  fmt.Sprintf("Your %s subscription is now %s.", provider, club.SubscriptionStatus),
				Link:  "/billing",
			}); err != nil {
				s.log.Warn("failed to notify billing change", zap.Error(err))
			}
		}
	}
	return true, nil
}

var errDuplicate = errors.New("duplicate event")

func findClub(tx *gorm.DB, ev Event) (*models.Club, error) {
	var club models.Club
	if ev.ClubID != "" {
		err := tx.First(&club, "id = ?", ev.ClubID).Error
		if err == nil {
			return &club, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.SubscriptionID != "" {
		err := tx.First(&club, "subscription_id = ?", ev.SubscriptionID).Error
		if err == nil {
			return &club, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
