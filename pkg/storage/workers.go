package storage

import (
	"encoding/json"
	"time"

	"github.com/arenadata/adcm/pkg/types"
)

// Heartbeat operations

func (t *boltTx) PutHeartbeat(hb *types.Heartbeat) error {
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	return putJSON(t.tx.Bucket(bucketHeartbeats), []byte(hb.Hostname), hb)
}

func (t *boltTx) GetHeartbeat(hostname string) (*types.Heartbeat, error) {
	var hb types.Heartbeat
	found, err := getJSON(t.tx.Bucket(bucketHeartbeats), []byte(hostname), &hb)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFoundf("heartbeat for %s", hostname)
	}
	return &hb, nil
}

func (t *boltTx) ListHeartbeats() ([]*types.Heartbeat, error) {
	var hbs []*types.Heartbeat
	err := t.tx.Bucket(bucketHeartbeats).ForEach(func(k, v []byte) error {
		var hb types.Heartbeat
		if err := json.Unmarshal(v, &hb); err != nil {
			return err
		}
		hbs = append(hbs, &hb)
		return nil
	})
	return hbs, err
}

// Work queue operations

// EnqueueWork places a task on a worker's queue. Re-enqueueing the same task
// replaces the previous item.
func (t *boltTx) EnqueueWork(item *types.WorkItem) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	return putJSON(t.tx.Bucket(bucketWorkQueue), itob(item.TaskID), item)
}

// ClaimWork hands the oldest unclaimed item addressed to hostname to its worker
func (t *boltTx) ClaimWork(hostname string, now time.Time) (*types.WorkItem, error) {
	b := t.tx.Bucket(bucketWorkQueue)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var item types.WorkItem
		if err := json.Unmarshal(v, &item); err != nil {
			return nil, err
		}
		if item.Hostname != hostname || item.ClaimedAt != nil {
			continue
		}
		claimedAt := now
		item.ClaimedAt = &claimedAt
		if err := putJSON(b, k, &item); err != nil {
			return nil, err
		}
		return &item, nil
	}
	return nil, nil
}

func (t *boltTx) ListWork() ([]*types.WorkItem, error) {
	var items []*types.WorkItem
	err := t.tx.Bucket(bucketWorkQueue).ForEach(func(k, v []byte) error {
		var item types.WorkItem
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		items = append(items, &item)
		return nil
	})
	return items, err
}

func (t *boltTx) DeleteWork(taskID int64) error {
	return t.tx.Bucket(bucketWorkQueue).Delete(itob(taskID))
}
