// Package reaper periodically deletes expired messages.
package reaper

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/metrics"
)

// Purger deletes expired messages and returns how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Reaper struct {
	purger   Purger
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   logging.Logger
}

func New(p Purger, interval time.Duration, clk clock.Clock, m *metrics.Metrics, l logging.Logger) *Reaper {
	return &Reaper{
		purger:   p,
		interval: interval,
		clock:    clk,
		metrics:  m,
		logger:   l.With("module", "reaper"),
	}
}

// Sweep runs one purge. Errors are logged and counted.
func (r *Reaper) Sweep(ctx context.Context) {
	n, err := r.purger.PurgeExpired(ctx)
	if err != nil {
		r.metrics.StorageFaults.WithLabelValues(metrics.OpReap).Inc()
		r.logger.Error(ctx, "sweep failed", "error", err)
		return
	}
	r.metrics.ReaperDeleted.Add(float64(n))
	if n > 0 {
		r.logger.Info(ctx, "expired messages deleted", "count", n)
	}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.logger.Info(ctx, "reaper started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "reaper stopped")
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
