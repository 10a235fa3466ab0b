package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// HeartbeatChecker reports whether a distributed worker's heartbeat row is
// younger than the staleness threshold
type HeartbeatChecker struct {
	Store    storage.Store
	Hostname string
	Stale    time.Duration

	// WorkerID, when set, must match the heartbeat row. A restarted worker
	// gets a new id and no longer owns tasks launched before the restart.
	WorkerID string

	Now func() time.Time
}

// NewHeartbeatChecker creates a heartbeat staleness checker
func NewHeartbeatChecker(store storage.Store, hostname string, stale time.Duration) *HeartbeatChecker {
	return &HeartbeatChecker{
		Store:    store,
		Hostname: hostname,
		Stale:    stale,
		Now:      time.Now,
	}
}

// WithWorkerID pins the check to one worker incarnation
func (c *HeartbeatChecker) WithWorkerID(id string) *HeartbeatChecker {
	c.WorkerID = id
	return c
}

// Check reads the heartbeat row
func (c *HeartbeatChecker) Check(ctx context.Context) Result {
	start := time.Now()

	var hb *types.Heartbeat
	err := c.Store.View(func(tx storage.Tx) error {
		var err error
		hb, err = tx.GetHeartbeat(c.Hostname)
		return err
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return result(start, false, fmt.Sprintf("worker %s has no heartbeat", c.Hostname))
		}
		return result(start, false, fmt.Sprintf("heartbeat lookup failed: %v", err))
	}

	if c.WorkerID != "" && hb.WorkerID != c.WorkerID {
		return result(start, false, fmt.Sprintf("worker %s restarted (was %s, now %s)", c.Hostname, c.WorkerID, hb.WorkerID))
	}

	age := c.Now().Sub(hb.Timestamp)
	if age > c.Stale {
		return result(start, false, fmt.Sprintf("worker %s heartbeat is %s old (limit %s)", c.Hostname, age.Round(time.Second), c.Stale))
	}
	return result(start, true, fmt.Sprintf("worker %s heartbeat %s ago", c.Hostname, age.Round(time.Millisecond)))
}

// Type returns the check type
func (c *HeartbeatChecker) Type() CheckType {
	return CheckTypeHeartbeat
}
