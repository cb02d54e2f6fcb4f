// Package writer consumes the durable event queue and persists each event
// into the session chain store. It acknowledges a delivery only after the
// graph write succeeded, so a crash between write and ack causes reprocessing
// (absorbed by the store's idempotency) rather than loss.
package writer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/artello/eventflow/internal/domain"
	"github.com/artello/eventflow/internal/graph"
	"github.com/artello/eventflow/internal/queue"
)

// Writer is the single logical consumer of the event queue. One Writer runs
// per process; instances may be scaled horizontally because the chain store's
// transaction is the sole serialization point.
type Writer struct {
	consumer queue.Consumer
	store    graph.ChainStore
	logger   *slog.Logger
}

func New(consumer queue.Consumer, store graph.ChainStore, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{consumer: consumer, store: store, logger: logger}
}

// Run processes deliveries one at a time until ctx is canceled. The message
// in flight when cancellation arrives is finished before Run returns.
func (w *Writer) Run(ctx context.Context) error {
	deliveries, err := w.consumer.Consume(ctx)
	if err != nil {
		return err
	}

	w.logger.Info("event writer started")
	for d := range deliveries {
		w.handle(ctx, d)
	}
	w.logger.Info("event writer stopped")
	return nil
}

func (w *Writer) handle(ctx context.Context, d queue.Delivery) {
	processedTotal.Inc()

	if d.Event == nil {
		// Undecodable body. Never acknowledged: the broker redelivers and
		// the failure stays visible operationally.
		failuresTotal.Inc()
		w.logger.Error("discarding ack for undecodable message",
			slog.Int("body_bytes", len(d.Body)))
		w.settle(d.Nack, "nack")
		return
	}

	res, err := w.store.LinkEvent(ctx, d.Event)
	if err != nil {
		failuresTotal.Inc()
		w.logger.Error("failed to link event",
			slog.String("event_id", d.Event.EventID),
			slog.String("session_id", d.Event.SessionID),
			slog.String("error", err.Error()))
		w.settle(d.Nack, "nack")
		return
	}

	if res.Duplicate {
		duplicatesTotal.Inc()
		w.logger.Debug("absorbed duplicate delivery",
			slog.String("event_id", d.Event.EventID))
	} else {
		linkedTotal.Inc()
		if err := w.associateUser(ctx, d.Event); err != nil {
			// The link is committed; retrying the whole message would be
			// absorbed as a duplicate without retrying this. Log and move on.
			w.logger.Warn("failed to upsert user attributes",
				slog.String("event_id", d.Event.EventID),
				slog.String("error", err.Error()))
		}
	}

	w.settle(d.Ack, "ack")
}

// associateUser maintains the user relation used by segmentation queries
// when the producer supplied user attributes in the payload.
func (w *Writer) associateUser(ctx context.Context, ev *domain.Event) error {
	userID := ev.UserID()
	if userID == "" {
		return nil
	}
	u := graph.User{UserID: userID}
	if c, ok := ev.Payload["country"].(string); ok {
		u.Country = c
	}
	if d, ok := ev.Payload["device_type"].(string); ok {
		u.DeviceType = d
	}
	err := w.store.UpsertUser(ctx, u)
	if errors.Is(err, domain.ErrValidation) {
		return nil
	}
	return err
}

func (w *Writer) settle(fn func() error, kind string) {
	if err := fn(); err != nil {
		w.logger.Error("failed to settle delivery",
			slog.String("kind", kind),
			slog.String("error", err.Error()))
	}
}
