package storage

import (
	"testing"
	"time"

	"github.com/arenadata/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcernLinks(t *testing.T) {
	store := newTestStore(t)
	c1 := types.EntityRef{Kind: types.EntityCluster, ID: 1}
	c10 := types.EntityRef{Kind: types.EntityCluster, ID: 10}
	h1 := types.EntityRef{Kind: types.EntityHost, ID: 1}

	err := store.Update(func(tx Tx) error {
		lock := &types.Concern{Kind: types.ConcernLock, Cause: types.CauseJob, Owner: c1, TaskID: 3}
		require.NoError(t, tx.CreateConcern(lock))
		issue := &types.Concern{Kind: types.ConcernIssue, Cause: types.CauseConfig, Owner: c10}
		require.NoError(t, tx.CreateConcern(issue))

		require.NoError(t, tx.LinkConcern(c1, lock.ID))
		require.NoError(t, tx.LinkConcern(c1, lock.ID))
		require.NoError(t, tx.LinkConcern(h1, lock.ID))
		require.NoError(t, tx.LinkConcern(c10, issue.ID))

		// "cluster:1/" must not match "cluster:10/"
		ids, err := tx.EntityConcerns(c1)
		require.NoError(t, err)
		assert.Equal(t, []int64{lock.ID}, ids)

		ids, err = tx.EntityConcerns(c10)
		require.NoError(t, err)
		assert.Equal(t, []int64{issue.ID}, ids)

		locks, err := tx.ListConcerns(types.ConcernLock)
		require.NoError(t, err)
		require.Len(t, locks, 1)
		assert.Equal(t, int64(3), locks[0].TaskID)

		all, err := tx.ListConcerns("")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, tx.UnlinkConcern(h1, lock.ID))
		ids, err = tx.EntityConcerns(h1)
		require.NoError(t, err)
		assert.Empty(t, ids)

		require.NoError(t, tx.LinkConcern(h1, lock.ID))
		require.NoError(t, tx.DeleteConcern(lock.ID))
		for _, ref := range []types.EntityRef{c1, h1} {
			ids, err = tx.EntityConcerns(ref)
			require.NoError(t, err)
			assert.Empty(t, ids, ref.String())
		}
		_, err = tx.GetConcern(lock.ID)
		assert.ErrorIs(t, err, types.ErrNotFound)

		// The unrelated issue survives
		ids, err = tx.EntityConcerns(c10)
		require.NoError(t, err)
		assert.Equal(t, []int64{issue.ID}, ids)
		return nil
	})
	require.NoError(t, err)
}

func TestWorkQueue(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	err := store.Update(func(tx Tx) error {
		require.NoError(t, tx.PutHeartbeat(&types.Heartbeat{Hostname: "w1", WorkerID: "id-1"}))
		hb, err := tx.GetHeartbeat("w1")
		require.NoError(t, err)
		assert.Equal(t, "id-1", hb.WorkerID)
		assert.False(t, hb.Timestamp.IsZero())

		_, err = tx.GetHeartbeat("w2")
		assert.ErrorIs(t, err, types.ErrNotFound)

		require.NoError(t, tx.EnqueueWork(&types.WorkItem{TaskID: 2, Hostname: "w1", RunID: "r2"}))
		require.NoError(t, tx.EnqueueWork(&types.WorkItem{TaskID: 1, Hostname: "w2", RunID: "r1"}))
		require.NoError(t, tx.EnqueueWork(&types.WorkItem{TaskID: 3, Hostname: "w1", RunID: "r3"}))

		item, err := tx.ClaimWork("w1", now)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, int64(2), item.TaskID)
		assert.NotNil(t, item.ClaimedAt)

		item, err = tx.ClaimWork("w1", now)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, int64(3), item.TaskID)

		item, err = tx.ClaimWork("w1", now)
		require.NoError(t, err)
		assert.Nil(t, item)

		require.NoError(t, tx.DeleteWork(2))
		items, err := tx.ListWork()
		require.NoError(t, err)
		assert.Len(t, items, 2)
		return nil
	})
	require.NoError(t, err)
}
