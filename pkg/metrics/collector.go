package metrics

import (
	"time"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// Collector periodically refreshes gauges derived from the store
type Collector struct {
	store    storage.Store
	interval time.Duration
	stale    time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. stale is the heartbeat age
// after which a worker no longer counts as alive.
func NewCollector(store storage.Store, interval, stale time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stale:    stale,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes every gauge once
func (c *Collector) Collect() {
	_ = c.store.View(func(tx storage.Tx) error {
		c.collectTaskMetrics(tx)
		c.collectLockMetrics(tx)
		c.collectWorkerMetrics(tx)
		return nil
	})
}

func (c *Collector) collectTaskMetrics(tx storage.Tx) {
	tasks, err := tx.ListUnfinished()
	if err != nil {
		return
	}

	counts := make(map[types.Status]int)
	for _, s := range types.NonTerminalStatuses {
		counts[s] = 0
	}
	for _, task := range tasks {
		counts[task.Status]++
	}

	for status, count := range counts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectLockMetrics(tx storage.Tx) {
	locks, err := tx.ListConcerns(types.ConcernLock)
	if err != nil {
		return
	}
	ActiveLocks.Set(float64(len(locks)))
}

func (c *Collector) collectWorkerMetrics(tx storage.Tx) {
	hbs, err := tx.ListHeartbeats()
	if err != nil {
		return
	}

	alive := 0
	now := time.Now()
	for _, hb := range hbs {
		if c.stale <= 0 || now.Sub(hb.Timestamp) <= c.stale {
			alive++
		}
	}
	WorkersAlive.Set(float64(alive))
}
