package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmstand/models"

	"go.uber.org/zap"
)

const sweepBatch = 100

// ExpireStale cancels card orders left unpaid past ttl and returns their
// stock. The intent is cancelled first so a late payment cannot land on an
// order whose stock is gone; orders whose intent cannot be cancelled are
// left for the next pass.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := s.store.ListStale(ctx, s.now().Add(-ttl), sweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		o := &stale[i]
		if o.PaymentIntentID != "" && s.payments != nil {
			if err := s.payments.CancelIntent(ctx, o.PaymentIntentID); err != nil {
				s.log.Warn("skip expiry, intent not cancelled",
					zap.String("orderId", o.ID.Hex()), zap.Error(err))
				continue
			}
		}
		updated, err := s.store.CompareAndSetStatus(ctx, o.ID, models.StatusPending, models.StatusCancelled)
		if err != nil {
			if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
				s.log.Error("expire order", zap.String("orderId", o.ID.Hex()), zap.Error(err))
			}
			continue
		}
		s.releaseStock(ctx, updated)
		s.notify.Append(ctx, updated.Customer,
			fmt.Sprintf("Your order #%s expired before payment and was cancelled.", shortID(updated.ID)),
			orderLink(updated.ID))
		expired++
	}
	if expired > 0 {
		s.log.Info("expired stale orders", zap.Int("count", expired))
	}
	return expired, nil
}

// Sweeper runs ExpireStale on an interval until stopped.
type Sweeper struct {
	svc      *Service
	ttl      time.Duration
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(svc *Service, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, ttl: ttl, interval: interval, done: make(chan struct{})}
}

func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)
	go func() {
		defer close(sw.done)
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := sw.svc.ExpireStale(ctx, sw.ttl); err != nil && ctx.Err() == nil {
					sw.svc.log.Error("order sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	<-sw.done
}
