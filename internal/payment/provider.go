package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

type Contact struct {
	Phone string
	Email string
	Name  string
}

type IntentRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Method   string
	Contact  Contact
}

// Intent is the provider's handle for a started payment.
type Intent struct {
	TransactionID string
	RedirectURL   string
	ClientSecret  string
}

// Provider names. A payment is settled only by callbacks from the provider
// that created it.
const (
	ProviderSimulator = "simulator"
	ProviderStripe    = "stripe"
)

// Provider starts payments with an external gateway.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// Simulator is the deterministic test-mode provider. Confirmation arrives
// through the regular webhook endpoint.
type Simulator struct {
	RedirectBase string
	NewID        func() string
}

func NewSimulator(redirectBase string) *Simulator {
	return &Simulator{RedirectBase: strings.TrimRight(redirectBase, "/"), NewID: uuid.NewString}
}

func (s *Simulator) Name() string { return ProviderSimulator }

func (s *Simulator) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if !req.Amount.IsPositive() {
		return Intent{}, fmt.Errorf("simulator: amount must be positive, got %s", req.Amount)
	}
	id := "sim_" + s.NewID()
	return Intent{TransactionID: id, RedirectURL: s.RedirectBase + "/" + id}, nil
}

// StripeProvider creates PaymentIntents. The intent id is the transaction id.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider builds a client for key. backends may be nil to use the
// public Stripe API.
func NewStripeProvider(key string, backends *stripe.Backends) *StripeProvider {
	api := &client.API{}
	api.Init(key, backends)
	return &StripeProvider{api: api}
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	cur := strings.ToLower(req.Currency)
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(req.Amount, cur)),
		Currency: stripe.String(cur),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("method", req.Method)
	if req.Contact.Email != "" {
		params.ReceiptEmail = stripe.String(req.Contact.Email)
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return Intent{TransactionID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// Currencies Stripe takes in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorUnits converts an amount to the integer Stripe expects for currency.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
