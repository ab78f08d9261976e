// Package payment wraps the Stripe SDK: hosted checkout session creation,
// webhook signature verification, and session retrieval for the success
// page. The cart snapshot rides along as session metadata and comes back
// untouched on the completed-checkout event.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"midistore/config"
	"midistore/internal/models"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// EventTypeCheckoutCompleted is the only event type fulfillment reacts to.
const EventTypeCheckoutCompleted = "checkout.session.completed"

type Client struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewClient creates a Stripe-backed payment client
func NewClient(cfg config.StripeConfig) *Client {
	return &Client{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// CreateCheckoutSession creates a hosted checkout session for the given
// cart. Line items use the client-claimed prices; the settled amount Stripe
// reports on completion is what ends up on the order. The full cart rides
// along in session metadata for fulfillment to reconcile later.
func (c *Client) CreateCheckoutSession(ctx context.Context, entries []models.CartEntry, email string) (string, error) {
	if len(entries) == 0 {
		return "", errors.New("cart is empty")
	}

	snapshot, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(entries))
	for _, entry := range entries {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(string(stripe.CurrencyUSD)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(entry.Title),
				},
				UnitAmount: stripe.Int64(entry.PriceCents),
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  lineItems,
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
	}
	params.Context = ctx
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata("cart", string(snapshot))

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

// VerifyEvent checks the webhook signature and returns the parsed event.
// An unverifiable payload must be rejected before any pipeline step runs.
func (c *Client) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.webhookSecret)
}

// ParseCheckoutCompleted extracts the payment event fulfillment needs from
// a verified checkout.session.completed event.
func (c *Client) ParseCheckoutCompleted(event stripe.Event) (*models.PaymentEvent, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		return nil, errors.New("checkout session has no payment intent")
	}

	email := sess.CustomerEmail
	name := ""
	if sess.CustomerDetails != nil {
		if email == "" {
			email = sess.CustomerDetails.Email
		}
		name = sess.CustomerDetails.Name
	}

	return &models.PaymentEvent{
		PaymentID:     sess.PaymentIntent.ID,
		AmountTotal:   sess.AmountTotal,
		CustomerEmail: email,
		CustomerName:  name,
		CartSnapshot:  []byte(sess.Metadata["cart"]),
	}, nil
}

// GetSession retrieves a checkout session by id
func (c *Client) GetSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	return c.api.CheckoutSessions.Get(sessionID, params)
}
