package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-boutique-orders/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Deduper remembers processed event ids.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Sink is the outbound delivery channel (email, sms, push). It lives outside
// this service; the bundled LogSink only writes the event to the log.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

type LogSink struct{ Log *zap.Logger }

func (s LogSink) Deliver(_ context.Context, e Event) error {
	s.Log.Info("notification_delivered",
		zap.String("notification_id", e.NotificationID),
		zap.String("actor_id", e.ActorID),
		zap.String("type", e.Type),
		zap.String("title", e.Title),
	)
	return nil
}

// Relay consumes lifecycle envelopes and forwards each event to the sink once.
type Relay struct {
	dedup Deduper
	sink  Sink
	log   *zap.Logger
}

func NewRelay(dedup Deduper, sink Sink, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{dedup: dedup, sink: sink, log: log}
}

// Handle matches kafka.Handler. Malformed messages are logged and committed.
func (r *Relay) Handle(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		r.log.Warn("relay_bad_envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != EventNotificationCreated || env.EventVersion != EventVersion {
		r.log.Debug("relay_skip_event", zap.String("event_type", env.EventType), zap.Int("event_version", env.EventVersion))
		return nil
	}
	if r.dedup != nil {
		seen, err := r.dedup.Seen(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup lookup: %w", err)
		}
		if seen {
			return nil
		}
	}
	ev, err := kafkax.UnwrapPayload[Event](env.Payload)
	if err != nil {
		r.log.Warn("relay_bad_payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if err := r.sink.Deliver(ctx, ev); err != nil {
		return fmt.Errorf("deliver %s: %w", ev.NotificationID, err)
	}
	if r.dedup != nil {
		if err := r.dedup.Mark(ctx, env.EventID); err != nil {
			r.log.Warn("relay_dedup_mark_failed", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}
	return nil
}
