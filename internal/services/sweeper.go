package service

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically settles ended auctions and sends ending-soon
// reminders until its context is cancelled.
type Sweeper struct {
	settlement     SettlementService
	interval       time.Duration
	reminderWindow time.Duration
	now            func() time.Time
}

func NewSweeper(settlement SettlementService, interval, reminderWindow time.Duration) *Sweeper {
	return &Sweeper{
		settlement:     settlement,
		interval:       interval,
		reminderWindow: reminderWindow,
		now:            time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("sweeper started", "interval", s.interval, "reminder_window", s.reminderWindow)
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick never fails; errors are logged and retried on the next tick.
func (s *Sweeper) tick(ctx context.Context) {
	now := s.now()
	if settled, err := s.settlement.SettleDue(ctx, now); err != nil {
		slog.Error("sweep settlement failed", "settled", settled, "error", err)
	} else if settled > 0 {
		slog.Info("sweep settled auctions", "settled", settled)
	}

	if s.reminderWindow <= 0 {
		return
	}
	if _, err := s.settlement.NotifyEndingSoon(ctx, now, s.reminderWindow); err != nil {
		slog.Error("sweep reminders failed", "error", err)
	}
}
