// Package jobs holds the exchange's background jobs. None of them are needed for
// correctness: budgets reset lazily on the next charge, so these only feed observability.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/threat-exchange/threat-exchange/internal/safego"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

// CampaignCounter reports how many campaigns exist
type CampaignCounter interface {
	CountCampaigns(ctx context.Context) (int, error)
}

// CampaignStatsJob samples the campaign count into the campaigns_active gauge
type CampaignStatsJob struct {
	counter  CampaignCounter
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCampaignStatsJob creates a job sampling every interval (one minute when unset)
func NewCampaignStatsJob(counter CampaignCounter, interval time.Duration) *CampaignStatsJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CampaignStatsJob{
		counter:  counter,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start samples once immediately and then on every tick until ctx is cancelled or Stop
// is called. It returns at once; the loop runs in the background.
func (j *CampaignStatsJob) Start(ctx context.Context) {
	safego.Go("campaign-stats", func() {
		defer close(j.done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		slog.Info("campaign stats job started", "interval", j.interval)
		j.sample(ctx)
		for {
			select {
			case <-ticker.C:
				j.sample(ctx)
			case <-j.stopCh:
				slog.Info("campaign stats job stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop ends the loop and waits for it to exit. Only call it after Start.
func (j *CampaignStatsJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	<-j.done
}

func (j *CampaignStatsJob) sample(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := j.counter.CountCampaigns(ctx)
	if err != nil {
		slog.Warn("failed to count campaigns", "error", err)
		return
	}
	telemetry.CampaignsActive.Set(float64(n))
}
