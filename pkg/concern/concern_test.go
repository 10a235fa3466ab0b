package concern

import (
	"path/filepath"
	"testing"

	"github.com/arenadata/adcm/pkg/seed"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "adcm.db"), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f, err := seed.LoadFile("../seed/testdata/cluster.yaml")
	require.NoError(t, err)
	_, err = f.Apply(store)
	require.NoError(t, err)
	return store
}

func ref(kind types.EntityKind, id int64) types.EntityRef {
	return types.EntityRef{Kind: kind, ID: id}
}

func TestComputeConcernSet(t *testing.T) {
	plain := &types.Action{}
	mapping := &types.Action{HostComponentACL: []types.HostComponentACL{{Service: "hdfs", Component: "datanode", Action: "add"}}}

	tests := []struct {
		name   string
		target types.EntityRef
		action *types.Action
		want   []types.EntityRef
	}{
		{
			name:   "cluster takes every child and bound host",
			target: ref(types.EntityCluster, 1),
			action: plain,
			want: []types.EntityRef{
				ref(types.EntityCluster, 1),
				ref(types.EntityService, 1), ref(types.EntityService, 2),
				ref(types.EntityComponent, 1), ref(types.EntityComponent, 2), ref(types.EntityComponent, 3),
				ref(types.EntityHost, 1), ref(types.EntityHost, 2),
			},
		},
		{
			name:   "empty cluster",
			target: ref(types.EntityCluster, 2),
			action: plain,
			want:   []types.EntityRef{ref(types.EntityCluster, 2)},
		},
		{
			name:   "service and its cluster",
			target: ref(types.EntityService, 1),
			action: plain,
			want:   []types.EntityRef{ref(types.EntityCluster, 1), ref(types.EntityService, 1)},
		},
		{
			name:   "service changing mapping adds its components",
			target: ref(types.EntityService, 1),
			action: mapping,
			want: []types.EntityRef{
				ref(types.EntityCluster, 1), ref(types.EntityService, 1),
				ref(types.EntityComponent, 1), ref(types.EntityComponent, 2),
			},
		},
		{
			name:   "component and ancestors",
			target: ref(types.EntityComponent, 1),
			action: plain,
			want:   []types.EntityRef{ref(types.EntityCluster, 1), ref(types.EntityService, 1), ref(types.EntityComponent, 1)},
		},
		{
			name:   "component changing mapping adds siblings",
			target: ref(types.EntityComponent, 1),
			action: mapping,
			want: []types.EntityRef{
				ref(types.EntityCluster, 1), ref(types.EntityService, 1),
				ref(types.EntityComponent, 1), ref(types.EntityComponent, 2),
			},
		},
		{
			name:   "bound host and its cluster",
			target: ref(types.EntityHost, 1),
			action: plain,
			want:   []types.EntityRef{ref(types.EntityCluster, 1), ref(types.EntityHost, 1)},
		},
		{
			name:   "free host",
			target: ref(types.EntityHost, 3),
			action: plain,
			want:   []types.EntityRef{ref(types.EntityHost, 3)},
		},
		{
			name:   "provider and its hosts",
			target: ref(types.EntityProvider, 1),
			action: plain,
			want: []types.EntityRef{
				ref(types.EntityHost, 1), ref(types.EntityHost, 2), ref(types.EntityHost, 3),
				ref(types.EntityProvider, 1),
			},
		},
		{
			name:   "host group hosts and owner",
			target: ref(types.EntityHostGroup, 1),
			action: plain,
			want: []types.EntityRef{
				ref(types.EntityCluster, 1), ref(types.EntityHost, 1), ref(types.EntityHost, 2),
				ref(types.EntityHostGroup, 1),
			},
		},
		{
			name:   "adcm",
			target: ref(types.EntityADCM, 1),
			action: nil,
			want:   []types.EntityRef{ref(types.EntityADCM, 1)},
		},
	}

	store := newSeededStore(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.View(func(tx storage.Tx) error {
				got, err := ComputeConcernSet(tx, tt.target, tt.action)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestComputeConcernSetUnknownEntity(t *testing.T) {
	store := newSeededStore(t)
	err := store.View(func(tx storage.Tx) error {
		_, err := ComputeConcernSet(tx, ref(types.EntityCluster, 99), nil)
		return err
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAcquireTaskLockConflicts(t *testing.T) {
	store := newSeededStore(t)

	lockFor := func(target types.EntityRef) (*types.Task, error) {
		task := &types.Task{ActionID: 1, Target: target}
		err := store.Update(func(tx storage.Tx) error {
			if err := tx.CreateTask(task); err != nil {
				return err
			}
			if _, err := AcquireTaskLock(tx, task, &types.Action{}); err != nil {
				return err
			}
			return tx.PutTask(task)
		})
		return task, err
	}

	first, err := lockFor(ref(types.EntityCluster, 1))
	require.NoError(t, err)
	assert.NotZero(t, first.LockID)

	// Host 1 is in the cluster's set
	_, err = lockFor(ref(types.EntityHost, 1))
	require.ErrorIs(t, err, types.ErrTargetBusy)
	var busy *types.BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, first.ID, busy.TaskID)

	// Disjoint sets proceed
	_, err = lockFor(ref(types.EntityHost, 3))
	require.NoError(t, err)

	err = store.Update(func(tx storage.Tx) error {
		held, err := LockOn(tx, ref(types.EntityComponent, 2))
		require.NoError(t, err)
		require.NotNil(t, held)
		assert.Equal(t, first.LockID, held.ID)
		assert.Len(t, held.Related, 8)

		ok, err := HasLock(tx, first)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, ReleaseTaskLock(tx, first))
		require.NoError(t, ReleaseTaskLock(tx, first))

		held, err = LockOn(tx, ref(types.EntityComponent, 2))
		require.NoError(t, err)
		assert.Nil(t, held)

		ok, err = HasLock(tx, first)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	// After release the host can be locked
	_, err = lockFor(ref(types.EntityHost, 1))
	require.NoError(t, err)
}

func TestAttachIdempotentAndIssuesDoNotBlock(t *testing.T) {
	store := newSeededStore(t)
	host := ref(types.EntityHost, 1)

	err := store.Update(func(tx storage.Tx) error {
		issue := &types.Concern{Kind: types.ConcernIssue, Cause: types.CauseConfig, Owner: host}
		require.NoError(t, tx.CreateConcern(issue))
		require.NoError(t, Attach(tx, issue, []types.EntityRef{host}))

		lock := &types.Concern{Kind: types.ConcernLock, Cause: types.CauseJob, Owner: host, TaskID: 5}
		require.NoError(t, tx.CreateConcern(lock))
		require.NoError(t, Attach(tx, lock, []types.EntityRef{host}))
		require.NoError(t, Attach(tx, lock, []types.EntityRef{host}))

		ids, err := tx.EntityConcerns(host)
		require.NoError(t, err)
		assert.Len(t, ids, 2)

		other := &types.Concern{Kind: types.ConcernLock, Cause: types.CauseJob, Owner: host, TaskID: 6}
		require.NoError(t, tx.CreateConcern(other))
		err = Attach(tx, other, []types.EntityRef{ref(types.EntityHost, 3), host})
		assert.ErrorIs(t, err, types.ErrTargetBusy)

		// Nothing was linked for the failed attach
		ids, err = tx.EntityConcerns(ref(types.EntityHost, 3))
		require.NoError(t, err)
		assert.Empty(t, ids)

		assert.Error(t, Attach(tx, &types.Concern{Kind: types.ConcernLock}, []types.EntityRef{host}))

		require.NoError(t, Release(tx, lock.ID))
		require.NoError(t, Release(tx, lock.ID))
		require.NoError(t, Release(tx, 0))
		return nil
	})
	require.NoError(t, err)
}
