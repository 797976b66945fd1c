package notify

import (
	"context"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/metrics"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"go.uber.org/zap"
)

// Service is the read side of an actor's inbox.
type Service struct {
	st  store.Store
	log *zap.Logger
	m   *metrics.Metrics
}

func NewService(st store.Store, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{st: st, log: log, m: m}
}

func (s *Service) List(ctx context.Context, actor domain.Actor) (out []domain.Notification, err error) {
	defer s.m.Observe("notifications.list", time.Now(), &err)
	err = s.st.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListNotifications(ctx, actor.ID)
		return err
	})
	return out, err
}

// MarkRead sets the read flag. Only the recipient may do so; admins included.
func (s *Service) MarkRead(ctx context.Context, actor domain.Actor, id string) (err error) {
	defer s.m.Observe("notifications.mark_read", time.Now(), &err)
	return s.st.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.GetNotification(ctx, id)
		if err != nil {
			return err
		}
		if n.ActorID != actor.ID {
			return domain.E(domain.KindUnauthorized, "notification %s belongs to another actor", id)
		}
		if n.IsRead {
			return nil
		}
		return tx.MarkNotificationRead(ctx, id)
	})
}
