package billing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/plutov/paypal/v4"
	"github.com/tidwall/gjson"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

type PayPalProvider struct {
	client    *paypal.Client
	planID    string
	webhookID string
}

func NewPayPal(clientID, secret, mode, planID, webhookID string) (*PayPalProvider, error) {
	base := paypal.APIBaseSandBox
	if mode == "live" {
		base = paypal.APIBaseLive
	}
	c, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal client: %w", err)
	}
	return &PayPalProvider{client: c, planID: planID, webhookID: webhookID}, nil
}

func (p *PayPalProvider) Name() string { return ProviderPayPal }

func (p *PayPalProvider) Subscribe(ctx context.Context, club models.Club, returnURL, cancelURL string) (Checkout, error) {
	resp, err := p.client.CreateSubscription(ctx, paypal.SubscriptionBase{
		PlanID:   p.planID,
		CustomID: club.ID,
		ApplicationContext: &paypal.ApplicationContext{
			BrandName: club.Name,
			ReturnURL: returnURL,
			CancelURL: cancelURL,
		},
	})
	if err != nil {
		return Checkout{}, err
	}
	checkout := Checkout{Provider: ProviderPayPal, SubscriptionID: resp.ID}
	for _, link := range resp.Links {
		if link.Rel == "approve" {
			checkout.URL = link.Href
		}
	}
	if checkout.URL == "" {
		return checkout, fmt.Errorf("paypal returned no approval link for subscription %s", resp.ID)
	}
	return checkout, nil
}

func (p *PayPalProvider) Cancel(ctx context.Context, subscriptionID string) error {
	return p.client.CancelSubscription(ctx, subscriptionID, "Cancelled by club admin")
}

func (p *PayPalProvider) ParseWebhook(ctx context.Context, r *http.Request, body []byte) (Event, error) {
	// The verification call re-reads the body.
	r.Body = io.NopCloser(bytes.NewReader(body))
	resp, err := p.client.VerifyWebhookSignature(ctx, r, p.webhookID)
	if err != nil {
		return Event{}, fmt.Errorf("paypal: failed to verify webhook: %w", err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return Event{}, ErrInvalidSignature
	}
	return parsePayPalEvent(body)
}

func parsePayPalEvent(body []byte) (Event, error) {
	if !gjson.ValidBytes(body) {
		return Event{}, fmt.Errorf("paypal: invalid webhook payload")
	}
	doc := gjson.ParseBytes(body)
	ev := Event{
		ID:             doc.Get("id").String(),
		Type:           doc.Get("event_type").String(),
		SubscriptionID: doc.Get("resource.id").String(),
		ClubID:         doc.Get("resource.custom_id").String(),
	}
	if ev.ID == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("paypal: webhook payload without id or event_type")
	}
	ev.Status = PayPalStatus(ev.Type)
	return ev, nil
}

// PayPalStatus maps a PayPal event type to a club subscription status.
func PayPalStatus(eventType string) string {
	switch eventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED", "BILLING.SUBSCRIPTION.RE-ACTIVATED":
		return models.SubscriptionActive
	case "BILLING.SUBSCRIPTION.SUSPENDED", "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		return models.SubscriptionSuspended
	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
		return models.SubscriptionCancelled
	}
	return ""
}
