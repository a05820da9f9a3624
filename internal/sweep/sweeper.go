// Package sweep runs the periodic expiry pass over visitor passes and
// sign-in codes. The sweep is advisory: reads always derive expiry from
// validUntil, so a late or missed run never admits an expired visitor.
package sweep

import (
	"context"
	"time"

	"github.com/bouclier/residence-access/internal/repo/mongodb"
	"github.com/bouclier/residence-access/pkg/events"
	"github.com/bouclier/residence-access/pkg/logger"
)

type Sweeper struct {
	Visitors mongodb.VisitorsRepo
	Otps     mongodb.OtpRepo
	Bus      events.Publisher
	Interval time.Duration
}

func New(visitors mongodb.VisitorsRepo, otps mongodb.OtpRepo, bus events.Publisher, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{Visitors: visitors, Otps: otps, Bus: bus, Interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	logger.Info("expiry sweeper started", "interval", s.Interval.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single expiry pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	count, err := s.Visitors.MarkExpired(ctx, now)
	if err != nil {
		logger.Error("failed to mark expired passes", "error", err)
	} else if count > 0 {
		logger.Info("marked expired visitor passes", "count", count)
		if err := s.Bus.Publish(ctx, events.VisitorsExpired, events.VisitorsExpiredEvent{
			Count:     count,
			SweptAt:   now,
			Triggered: "sweep",
		}); err != nil {
			logger.Warn("failed to publish expiry event", "error", err)
		}
	}

	deleted, err := s.Otps.DeleteExpired(ctx)
	if err != nil {
		logger.Error("failed to delete expired codes", "error", err)
	} else if deleted > 0 {
		logger.Debug("deleted expired sign-in codes", "count", deleted)
	}
}
