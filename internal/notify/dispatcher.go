package notify

import (
	"context"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	kafkax "github.com/ariefcatur/go-boutique-orders/internal/kafka"
	"github.com/ariefcatur/go-boutique-orders/internal/metrics"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const dispatchTimeout = 2 * time.Second

// Dispatcher delivers lifecycle events outside the core. The core never rolls
// back because a dispatch failed.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Dispatch(context.Context, Event) error { return nil }

type LogDispatcher struct{ Log *zap.Logger }

func (d LogDispatcher) Dispatch(_ context.Context, e Event) error {
	if d.Log != nil {
		d.Log.Info("notification_dispatched",
			zap.String("notification_id", e.NotificationID),
			zap.String("actor_id", e.ActorID),
			zap.String("type", e.Type),
			zap.String("reference_id", e.ReferenceID),
		)
	}
	return nil
}

// Publisher is the part of kafka.Producer the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// KafkaDispatcher wraps each event in a v1 envelope on the lifecycle topic.
type KafkaDispatcher struct {
	Producer Publisher
	Service  string
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, e Event) error {
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventNotificationCreated,
		EventVersion:  EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      d.Service,
		CorrelationID: e.ReferenceID,
		Payload:       kafkax.MustMarshal(e),
	}
	return d.Producer.Publish(ctx, PartitionKey(e.ActorID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(EventNotificationCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// Recorder persists notifications in the caller's transaction and dispatches
// them once that transaction commits.
type Recorder struct {
	d   Dispatcher
	log *zap.Logger
	m   *metrics.Metrics
	now func() time.Time
}

func NewRecorder(d Dispatcher, log *zap.Logger, m *metrics.Metrics) *Recorder {
	if d == nil {
		d = Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{d: d, log: log, m: m, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Recorder) Record(ctx context.Context, tx store.Tx, n domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	if err := tx.InsertNotification(ctx, n); err != nil {
		return err
	}
	ev := Event{
		NotificationID: n.ID,
		ActorID:        n.ActorID,
		Type:           string(n.Type),
		Title:          n.Title,
		Body:           n.Body,
		ReferenceID:    n.ReferenceID,
		OccurredAt:     n.CreatedAt,
	}
	tx.AfterCommit(func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		if err := r.d.Dispatch(dctx, ev); err != nil {
			r.m.DispatchFailed()
			r.log.Warn("notification_dispatch_failed",
				zap.String("notification_id", ev.NotificationID),
				zap.String("type", ev.Type),
				zap.Error(err),
			)
		}
	})
	return nil
}
