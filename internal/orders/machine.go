package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/inventory"
	"github.com/ariefcatur/go-boutique-orders/internal/metrics"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"go.uber.org/zap"
)

// Invalidator drops cached copies of an order. version is the order's
// version after the change; copies older than it must not be cached again.
type Invalidator interface {
	Invalidate(ctx context.Context, orderID string, version int) error
}

// StatusMachine applies role-gated status changes. Writes are guarded by the
// order version; a lost race is retried from a fresh read.
type StatusMachine struct {
	st      store.Store
	pool    *inventory.Pool
	rec     *notify.Recorder
	cache   Invalidator
	retries int
	log     *zap.Logger
	m       *metrics.Metrics
}

func NewStatusMachine(st store.Store, pool *inventory.Pool, rec *notify.Recorder, retries int, log *zap.Logger, m *metrics.Metrics) *StatusMachine {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = notify.NewRecorder(nil, log, m)
	}
	if retries < 1 {
		retries = 1
	}
	return &StatusMachine{st: st, pool: pool, rec: rec, retries: retries, log: log.With(zap.String("component", "status_machine")), m: m}
}

// UseCache registers a cache to invalidate after each committed transition.
func (s *StatusMachine) UseCache(c Invalidator) { s.cache = c }

// Retries is how many attempts an entry point makes on version conflicts.
func (s *StatusMachine) Retries() int { return s.retries }

// Transition moves an order to target in its own transaction.
func (s *StatusMachine) Transition(ctx context.Context, actor domain.Actor, orderID string, target domain.OrderStatus) (out domain.Order, err error) {
	defer s.m.Observe("orders.transition", time.Now(), &err)
	for attempt := 1; ; attempt++ {
		err = s.st.WithTx(ctx, func(tx store.Tx) error {
			var err error
			out, err = s.Apply(ctx, tx, actor, orderID, target)
			return err
		})
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt >= s.retries {
			break
		}
		s.m.VersionConflict()
		s.log.Debug("transition_conflict_retry", zap.String("order_id", orderID), zap.Int("attempt", attempt))
	}
	if err != nil {
		return domain.Order{}, err
	}
	return out, nil
}

// Apply performs one transition inside tx. Callers that already own a
// transaction (the payment adapter) use it directly and handle conflicts.
func (s *StatusMachine) Apply(ctx context.Context, tx store.Tx, actor domain.Actor, orderID string, target domain.OrderStatus) (domain.Order, error) {
	if !target.IsValid() {
		return domain.Order{}, domain.E(domain.KindValidation, "unknown status %q", target)
	}
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorize(actor, o, target); err != nil {
		return domain.Order{}, err
	}

	from := o.Status
	switch {
	case target == domain.StatusCancelled:
		for _, it := range o.Items {
			if err := s.pool.Release(ctx, tx, itemRef(it), it.Quantity); err != nil {
				return domain.Order{}, err
			}
		}
	case from == domain.StatusCancelled:
		for _, it := range o.Items {
			if _, err := s.pool.Commit(ctx, tx, itemRef(it), it.Quantity); err != nil {
				return domain.Order{}, err
			}
		}
	}

	now := time.Now().UTC()
	if err := tx.UpdateOrderStatus(ctx, o.ID, o.Version, target, now); err != nil {
		return domain.Order{}, err
	}
	o.Status = target
	o.Version++
	o.UpdatedAt = now

	title, body := statusMessage(o)
	typ := domain.NotifyOrderStatus
	if target == domain.StatusPaid {
		typ = domain.NotifyPaymentConfirmed
	}
	if err := s.rec.Record(ctx, tx, domain.Notification{
		ActorID:     o.ClientID,
		Title:       title,
		Body:        body,
		Type:        typ,
		ReferenceID: o.ID,
	}); err != nil {
		return domain.Order{}, err
	}
	if s.cache != nil {
		version := o.Version
		tx.AfterCommit(func() {
			if err := s.cache.Invalidate(context.WithoutCancel(ctx), o.ID, version); err != nil {
				s.log.Warn("order_cache_invalidate_failed", zap.String("order_id", o.ID), zap.Error(err))
			}
		})
	}
	s.log.Info("order_status_changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)),
	)
	return o, nil
}

func itemRef(it domain.OrderItem) inventory.Ref {
	return inventory.Ref{ProductID: it.ProductID, VariantID: it.VariantID}
}

// authorize decides whether actor may move o to target. Ownership and role
// failures are UNAUTHORIZED; a move the graph does not allow is INVALID_TRANSITION.
func authorize(actor domain.Actor, o domain.Order, target domain.OrderStatus) error {
	from := o.Status
	if from == target {
		return domain.E(domain.KindInvalidTransition, "order %s is already %s", o.ID, from)
	}
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleClient:
		if o.ClientID != actor.ID {
			return domain.E(domain.KindUnauthorized, "order %s belongs to another client", o.ID)
		}
		if target != domain.StatusCancelled {
			return domain.E(domain.KindUnauthorized, "clients may only cancel orders")
		}
		if from != domain.StatusPending && from != domain.StatusConfirmed {
			return domain.E(domain.KindInvalidTransition, "order %s cannot be cancelled from %s", o.ID, from)
		}
		return nil
	case domain.RoleVendor:
		if !o.HasVendor(actor.ID) {
			return domain.E(domain.KindUnauthorized, "vendor %s has no items in order %s", actor.ID, o.ID)
		}
		switch target {
		case domain.StatusConfirmed, domain.StatusShipped, domain.StatusDelivered:
		default:
			return domain.E(domain.KindUnauthorized, "vendors may not set %s", target)
		}
	case domain.RoleSystem:
		if target != domain.StatusPaid {
			return domain.E(domain.KindUnauthorized, "system may only mark orders paid")
		}
	default:
		return domain.E(domain.KindUnauthorized, "role %q may not change order status", actor.Role)
	}
	if !domain.CanTransition(from, target) {
		return domain.E(domain.KindInvalidTransition, "cannot move order %s from %s to %s", o.ID, from, target)
	}
	return nil
}

func statusMessage(o domain.Order) (title, body string) {
	switch o.Status {
	case domain.StatusPaid:
		return "Payment received", "We received the payment for order " + o.ID + "."
	case domain.StatusConfirmed:
		return "Order confirmed", "Your order " + o.ID + " was confirmed by the shop."
	case domain.StatusShipped:
		return "Order shipped", "Your order " + o.ID + " is on its way."
	case domain.StatusDelivered:
		return "Order delivered", "Your order " + o.ID + " was delivered."
	case domain.StatusCancelled:
		return "Order cancelled", "Your order " + o.ID + " was cancelled."
	default:
		return "Order updated", "Your order " + o.ID + " is now " + string(o.Status) + "."
	}
}
