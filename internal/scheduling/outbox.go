package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DisplacementPublisher hands displacement events to the external
// notification collaborator's transport.
type DisplacementPublisher interface {
	Publish(ctx context.Context, ev DisplacementEvent) error
}

// OutboxSource is the slice of the repository the deliverer needs.
type OutboxSource interface {
	FetchPendingDisplacements(ctx context.Context, limit int32) ([]DisplacementEvent, error)
	MarkDisplacementDelivered(ctx context.Context, id uuid.UUID) (bool, error)
}

// Deliverer drains the displacement outbox. Marking delivered only after a
// successful publish means delivery is at-least-once; the unique
// appointment_id in the outbox keeps emission itself exactly-once.
type Deliverer struct {
	source    OutboxSource
	publisher DisplacementPublisher
	log       *zap.Logger
	batchSize int32
}

func NewDeliverer(source OutboxSource, publisher DisplacementPublisher, log *zap.Logger) *Deliverer {
	return &Deliverer{
		source:    source,
		publisher: publisher,
		log:       log.Named("displacement-deliverer"),
		batchSize: 50,
	}
}

// RunOnce publishes one batch of pending events and reports how many were
// delivered.
func (d *Deliverer) RunOnce(ctx context.Context) (int, error) {
	pending, err := d.source.FetchPendingDisplacements(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	delivered := 0
	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := d.publisher.Publish(ctx, ev); err != nil {
			d.log.Warn("publish displacement failed, will retry next run",
				zap.String("event_id", ev.ID.String()),
				zap.Error(err),
			)
			continue
		}
		ok, err := d.source.MarkDisplacementDelivered(ctx, ev.ID)
		if err != nil {
			return delivered, fmt.Errorf("mark delivered: %w", err)
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// Run polls until the context is cancelled.
func (d *Deliverer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.RunOnce(ctx)
			if err != nil {
				d.log.Error("delivery run failed", zap.Error(err))
				continue
			}
			if n > 0 {
				d.log.Info("displacement events delivered", zap.Int("count", n))
			}
		}
	}
}
