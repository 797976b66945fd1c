package payment

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// ParseStripeEvent verifies a Stripe-signed webhook and maps PaymentIntent
// events to a Callback. ok is false for event types the adapter does not use.
func ParseStripeEvent(payload []byte, sigHeader, secret string) (cb Callback, ok bool, err error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Callback{}, false, fmt.Errorf("stripe signature: %w", err)
	}

	var status string
	switch event.Type {
	case "payment_intent.succeeded":
		status = "succeeded"
	case "payment_intent.payment_failed":
		status = "failed"
	case "payment_intent.canceled":
		status = "canceled"
	default:
		return Callback{}, false, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return Callback{}, false, fmt.Errorf("decode payment intent: %w", err)
	}
	return Callback{Provider: ProviderStripe, TransactionID: pi.ID, Status: status}, true, nil
}
