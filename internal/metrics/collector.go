package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/outbox"
)

// CampaignStatsProvider provides campaign aggregates for gauges
type CampaignStatsProvider interface {
	Stats(ctx context.Context, filter models.CampaignListFilter) (*models.CampaignStats, error)
}

// InstanceLister provides the stored instances for gauges
type InstanceLister interface {
	List(ctx context.Context) ([]models.Instance, error)
}

// OutboxCounter counts dispatch intents by state
type OutboxCounter interface {
	Stats(ctx context.Context) (*outbox.Stats, error)
}

// Collector keeps store-derived gauges current. Refresh is also called right
// after a successful dispatch so new campaigns show up without waiting a tick.
type Collector struct {
	metrics   *Metrics
	campaigns CampaignStatsProvider
	instances InstanceLister
	outbox    OutboxCounter
	interval  time.Duration
	startTime time.Time
	logger    *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector. Any provider may be nil.
func NewCollector(m *Metrics, campaigns CampaignStatsProvider, instances InstanceLister, intents OutboxCounter, interval time.Duration, logger *slog.Logger) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		metrics:   m,
		campaigns: campaigns,
		instances: instances,
		outbox:    intents,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger.With("component", "metrics"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the background loop
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *Collector) refresh(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("failed to refresh metrics", "error", err)
	}
}

// Refresh re-reads the providers and updates gauges. Provider errors are
// joined and returned, gauges for the healthy providers are still updated.
func (c *Collector) Refresh(ctx context.Context) error {
	if c == nil || c.metrics == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	var errs []error

	if c.campaigns != nil {
		stats, err := c.campaigns.Stats(ctx, models.CampaignListFilter{})
		if err != nil {
			errs = append(errs, err)
		} else {
			for status, n := range stats.ByStatus {
				c.metrics.CampaignsStored.WithLabelValues(string(status)).Set(float64(n))
			}
			c.metrics.CampaignPhones.Set(float64(stats.TotalPhones))
		}
	}

	if c.instances != nil {
		list, err := c.instances.List(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			counts := map[models.InstanceStatus]int{
				models.InstancePending:   0,
				models.InstanceConnected: 0,
			}
			for _, inst := range list {
				counts[inst.Status]++
			}
			for status, n := range counts {
				c.metrics.InstancesByStatus.WithLabelValues(string(status)).Set(float64(n))
			}
		}
	}

	if c.outbox != nil {
		stats, err := c.outbox.Stats(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.metrics.OutboxIntents.WithLabelValues(string(outbox.StatePending)).Set(float64(stats.Pending))
			c.metrics.OutboxIntents.WithLabelValues(string(outbox.StateCommitted)).Set(float64(stats.Committed))
			c.metrics.OutboxIntents.WithLabelValues(string(outbox.StateAborted)).Set(float64(stats.Aborted))
		}
	}

	return errors.Join(errs...)
}
