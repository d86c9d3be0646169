package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harborview/mailsync/internal/store"
)

// Dispatcher drains the event outbox to the bus. The outbox row and the
// message row commit in one transaction, so every persisted message
// eventually produces exactly one event; the publisher's MsgID dedup
// absorbs redelivery after a crash between publish and mark.
type Dispatcher struct {
	Store     *store.Store
	Publisher EventPublisher
	Log       *zap.Logger
}

const (
	dispatchBatch   = 100
	dispatchIdle    = 500 * time.Millisecond
	dispatchBackoff = 10 * time.Second
)

// Run loops until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := d.Store.DequeueOutbox(ctx, dispatchBatch)
		if err != nil {
			d.Log.Warn("dequeuing outbox failed", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if len(msgs) == 0 {
			sleep(ctx, dispatchIdle)
			continue
		}

		for _, msg := range msgs {
			if err := d.Publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				d.Log.Warn("publishing event failed", zap.Int64("id", msg.ID), zap.Error(err))
				if err := d.Store.MarkOutboxRetry(ctx, msg.ID, dispatchBackoff); err != nil {
					d.Log.Warn("scheduling retry failed", zap.Int64("id", msg.ID), zap.Error(err))
				}
				continue
			}
			if err := d.Store.MarkPublished(ctx, msg.ID); err != nil {
				d.Log.Warn("marking published failed", zap.Int64("id", msg.ID), zap.Error(err))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
