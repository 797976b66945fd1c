// Package payment starts payments with an external provider and applies the
// provider's callbacks exactly once.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/metrics"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/orders"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type InitiateInput struct {
	OrderID string
	Method  string
	Contact Contact
}

type Initiated struct {
	Payment      domain.Payment
	RedirectURL  string
	ClientSecret string
}

// Callback is a provider notification reduced to what the adapter needs.
// Provider names the endpoint that delivered it.
type Callback struct {
	Provider      string
	TransactionID string
	Status        string
}

type CallbackResult struct {
	Outcome       Outcome
	OrderID       string
	PaymentStatus domain.PaymentStatus
}

type StatusView struct {
	Payment     domain.Payment
	OrderStatus domain.OrderStatus
}

// Deduper is the fast-path memory of settled transaction ids. The payment row
// stays the source of truth.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type Adapter struct {
	st       store.Store
	provider Provider
	machine  *orders.StatusMachine
	rec      *notify.Recorder
	dedup    Deduper
	currency string
	log      *zap.Logger
	m        *metrics.Metrics
}

func NewAdapter(st store.Store, provider Provider, machine *orders.StatusMachine, rec *notify.Recorder, currency string, log *zap.Logger, m *metrics.Metrics) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = notify.NewRecorder(nil, log, m)
	}
	return &Adapter{
		st:       st,
		provider: provider,
		machine:  machine,
		rec:      rec,
		currency: currency,
		log:      log.With(zap.String("component", "payment"), zap.String("provider", provider.Name())),
		m:        m,
	}
}

func (a *Adapter) UseDedup(d Deduper) { a.dedup = d }

// ProviderName is the provider new payments are started with.
func (a *Adapter) ProviderName() string { return a.provider.Name() }

func canPay(actor domain.Actor, o domain.Order) bool {
	return actor.IsAdmin() || o.ClientID == actor.ID
}

// Initiate asks the provider for an intent first and only then writes the
// PENDING payment, so a provider failure leaves no row behind.
func (a *Adapter) Initiate(ctx context.Context, actor domain.Actor, in InitiateInput) (out Initiated, err error) {
	defer a.m.Observe("payments.initiate", time.Now(), &err)
	if strings.TrimSpace(in.Method) == "" {
		return Initiated{}, domain.E(domain.KindValidation, "payment method is required")
	}

	var o domain.Order
	err = a.st.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if o, err = tx.GetOrder(ctx, in.OrderID); err != nil {
			return err
		}
		return checkPayable(actor, o)
	})
	if err != nil {
		return Initiated{}, err
	}

	intent, err := a.provider.CreateIntent(ctx, IntentRequest{
		OrderID:  o.ID,
		Amount:   o.TotalAmount,
		Currency: a.currency,
		Method:   in.Method,
		Contact:  in.Contact,
	})
	if err != nil {
		a.log.Warn("payment_intent_failed", zap.String("order_id", o.ID), zap.Error(err))
		return Initiated{}, domain.Wrap(domain.KindExternalProvider, err, "payment provider %s unavailable", a.provider.Name())
	}
	if intent.TransactionID == "" {
		return Initiated{}, domain.E(domain.KindExternalProvider, "payment provider %s returned no transaction id", a.provider.Name())
	}

	now := time.Now().UTC()
	p := domain.Payment{
		ID:            uuid.NewString(),
		OrderID:       o.ID,
		TransactionID: intent.TransactionID,
		Amount:        o.TotalAmount,
		Status:        domain.PaymentPending,
		Method:        in.Method,
		Provider:      a.provider.Name(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = a.st.WithTx(ctx, func(tx store.Tx) error {
		cur, err := tx.GetOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if err := checkPayable(actor, cur); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, p)
	})
	if err != nil {
		return Initiated{}, err
	}
	a.log.Info("payment_initiated",
		zap.String("order_id", o.ID),
		zap.String("transaction_id", p.TransactionID),
		zap.String("amount", p.Amount.String()),
	)
	return Initiated{Payment: p, RedirectURL: intent.RedirectURL, ClientSecret: intent.ClientSecret}, nil
}

func checkPayable(actor domain.Actor, o domain.Order) error {
	if !canPay(actor, o) {
		return domain.E(domain.KindUnauthorized, "actor %s may not pay order %s", actor.ID, o.ID)
	}
	if o.Status != domain.StatusPending {
		return domain.E(domain.KindOrderNotPending, "order %s is %s", o.ID, o.Status)
	}
	return nil
}

type signal int

const (
	signalUnknown signal = iota
	signalSuccess
	signalFailure
)

func classify(status string) signal {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "success", "succeeded", "paid":
		return signalSuccess
	case "failed", "cancelled", "canceled", "declined", "expired":
		return signalFailure
	}
	return signalUnknown
}

// HandleCallback applies a provider callback at most once per transaction id.
// Business mismatches are reported as outcomes, never as errors; an error
// means the store failed and the provider may retry.
func (a *Adapter) HandleCallback(ctx context.Context, cb Callback) (res CallbackResult, err error) {
	defer a.m.Observe("payments.callback", time.Now(), &err)
	defer func() {
		if err == nil {
			a.m.Callback(string(res.Outcome))
		}
	}()
	log := a.log.With(
		zap.String("transaction_id", cb.TransactionID),
		zap.String("signal", cb.Status),
		zap.String("source", cb.Provider),
	)

	sig := classify(cb.Status)
	if cb.TransactionID == "" || sig == signalUnknown {
		log.Warn("payment_callback_ignored")
		return CallbackResult{Outcome: OutcomeIgnored}, nil
	}

	if a.dedup != nil {
		seen, err := a.dedup.Seen(ctx, cb.TransactionID)
		if err != nil {
			log.Warn("payment_dedup_lookup_failed", zap.Error(err))
		} else if seen {
			log.Debug("payment_callback_duplicate_fast_path")
			return CallbackResult{Outcome: OutcomeDuplicate}, nil
		}
	}

	for attempt := 1; ; attempt++ {
		res, err = a.apply(ctx, cb, sig, log)
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt >= a.machine.Retries() {
			break
		}
		a.m.VersionConflict()
		log.Debug("payment_callback_conflict_retry", zap.Int("attempt", attempt))
	}
	if err != nil {
		log.Error("payment_callback_failed", zap.Error(err))
		return CallbackResult{}, err
	}

	if a.dedup != nil && res.Outcome != OutcomeIgnored {
		if err := a.dedup.Mark(ctx, cb.TransactionID); err != nil {
			log.Warn("payment_dedup_mark_failed", zap.Error(err))
		}
	}
	log.Info("payment_callback_handled", zap.String("outcome", string(res.Outcome)), zap.String("order_id", res.OrderID))
	return res, nil
}

func (a *Adapter) apply(ctx context.Context, cb Callback, sig signal, log *zap.Logger) (res CallbackResult, err error) {
	txID := cb.TransactionID
	err = a.st.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.LockPaymentByTransaction(ctx, txID)
		if errors.Is(err, domain.ErrNotFound) {
			res = CallbackResult{Outcome: OutcomeIgnored}
			return nil
		}
		if err != nil {
			return err
		}
		if p.Provider != cb.Provider {
			log.Warn("payment_callback_wrong_provider", zap.String("order_id", p.OrderID), zap.String("payment_provider", p.Provider))
			res = CallbackResult{Outcome: OutcomeIgnored}
			return nil
		}
		res = CallbackResult{Outcome: OutcomeDuplicate, OrderID: p.OrderID, PaymentStatus: p.Status}
		if p.Status != domain.PaymentPending {
			return nil
		}

		to := domain.PaymentFailed
		if sig == signalSuccess {
			to = domain.PaymentCompleted
		}
		now := time.Now().UTC()
		changed, err := tx.SetPaymentStatus(ctx, txID, domain.PaymentPending, to, now)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		res = CallbackResult{Outcome: OutcomeApplied, OrderID: p.OrderID, PaymentStatus: to}

		o, err := tx.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if sig == signalFailure {
			return a.rec.Record(ctx, tx, domain.Notification{
				ActorID:     o.ClientID,
				Title:       "Payment failed",
				Body:        "The payment for order " + o.ID + " did not go through. You can try again.",
				Type:        domain.NotifyPaymentFailed,
				ReferenceID: o.ID,
			})
		}

		// The PAID transition carries the payment-confirmed notification.
		transitioned := true
		if _, err := a.machine.Apply(ctx, tx, domain.SystemActor, o.ID, domain.StatusPaid); err != nil {
			switch domain.KindOf(err) {
			case domain.KindInvalidTransition, domain.KindUnauthorized:
				transitioned = false
				log.Warn("payment_completed_order_not_pending", zap.String("order_id", o.ID), zap.String("order_status", string(o.Status)))
			default:
				return err
			}
		}
		if err := tx.InsertInvoice(ctx, domain.Invoice{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			PaymentID: p.ID,
			Number:    invoiceNumber(p.ID, now),
			Amount:    p.Amount,
			IssuedAt:  now,
		}); err != nil {
			return err
		}
		if transitioned {
			return nil
		}
		return a.rec.Record(ctx, tx, domain.Notification{
			ActorID:     o.ClientID,
			Title:       "Payment confirmed",
			Body:        fmt.Sprintf("We received %s for order %s.", p.Amount.String(), o.ID),
			Type:        domain.NotifyPaymentConfirmed,
			ReferenceID: o.ID,
		})
	})
	return res, err
}

// invoiceNumber is unique because the payment id is; one invoice per payment.
func invoiceNumber(paymentID string, at time.Time) string {
	return "INV-" + at.Format("20060102") + "-" + strings.ToUpper(strings.ReplaceAll(paymentID, "-", ""))
}

// Status lets the order's client or an admin poll a payment.
func (a *Adapter) Status(ctx context.Context, actor domain.Actor, txID string) (out StatusView, err error) {
	defer a.m.Observe("payments.status", time.Now(), &err)
	err = a.st.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPaymentByTransaction(ctx, txID)
		if err != nil {
			return err
		}
		o, err := tx.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if !canPay(actor, o) {
			return domain.E(domain.KindUnauthorized, "actor %s may not view payment %s", actor.ID, txID)
		}
		out = StatusView{Payment: p, OrderStatus: o.Status}
		return nil
	})
	return out, err
}
