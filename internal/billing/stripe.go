package billing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tidwall/gjson"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

type StripeProvider struct {
	api           *client.API
	priceID       string
	webhookSecret string
}

func NewStripe(secretKey, priceID, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		api:           client.New(secretKey, nil),
		priceID:       priceID,
		webhookSecret: webhookSecret,
	}
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) Subscribe(ctx context.Context, club models.Club, returnURL, cancelURL string) (Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(club.ID),
		SuccessURL:        stripe.String(returnURL),
		CancelURL:         stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(p.priceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"club_id": club.ID},
		},
	}
	if club.ContactEmail != "" {
		params.CustomerEmail = stripe.String(club.ContactEmail)
	}
	params.Context = ctx
	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return Checkout{}, err
	}
	// The subscription id is only known once checkout completes.
	return Checkout{Provider: ProviderStripe, URL: sess.URL}, nil
}

func (p *StripeProvider) Cancel(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := p.api.Subscriptions.Cancel(subscriptionID, params)
	return err
}

func (p *StripeProvider) ParseWebhook(_ context.Context, r *http.Request, body []byte) (Event, error) {
	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var raw []byte
	if event.Data != nil {
		raw = event.Data.Raw
	}
	return stripeEvent(event.ID, string(event.Type), raw), nil
}

// stripeEvent maps a Stripe event; object is the raw data.object.
func stripeEvent(id, eventType string, object []byte) Event {
	obj := gjson.ParseBytes(object)
	ev := Event{ID: id, Type: eventType}
	switch eventType {
	case "checkout.session.completed":
		ev.SubscriptionID = obj.Get("subscription").String()
		ev.ClubID = obj.Get("client_reference_id").String()
		if obj.Get("mode").String() == "subscription" {
			ev.Status = models.SubscriptionActive
		}
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		ev.SubscriptionID = obj.Get("id").String()
		ev.ClubID = obj.Get("metadata.club_id").String()
		if eventType == "customer.subscription.deleted" {
			ev.Status = models.SubscriptionCancelled
		} else {
			ev.Status = StripeSubscriptionStatus(obj.Get("status").String())
		}
	case "invoice.payment_failed":
		ev.SubscriptionID = obj.Get("subscription").String()
		ev.Status = models.SubscriptionSuspended
	case "invoice.paid":
		ev.SubscriptionID = obj.Get("subscription").String()
		ev.Status = models.SubscriptionActive
	}
	return ev
}

// StripeSubscriptionStatus maps a Stripe subscription status to a club subscription status.
func StripeSubscriptionStatus(status string) string {
	switch status {
	case "active", "trialing":
		return models.SubscriptionActive
	case "past_due", "unpaid", "paused":
		return models.SubscriptionSuspended
	case "canceled", "incomplete_expired":
		return models.SubscriptionCancelled
	case "incomplete":
		return models.SubscriptionPending
	}
	return ""
}
