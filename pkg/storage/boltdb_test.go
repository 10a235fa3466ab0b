package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/arenadata/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "adcm.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewBoltStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "adcm.db")
	store, err := NewBoltStore(path, Options{})
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, path, store.Path())
	assert.FileExists(t, path)
}

func TestClosedStoreRejectsTransactions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	err := store.View(func(tx Tx) error { return nil })
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}

func TestSharedStoresSeeEachOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adcm.db")

	writer, err := NewBoltStore(path, Options{Shared: true, LockTimeout: time.Second})
	require.NoError(t, err)
	defer writer.Close()

	reader, err := NewBoltStore(path, Options{Shared: true, LockTimeout: time.Second})
	require.NoError(t, err)
	defer reader.Close()

	var id int64
	err = writer.Update(func(tx Tx) error {
		task := &types.Task{ActionID: 7, Target: types.EntityRef{Kind: types.EntityCluster, ID: 1}}
		if err := tx.CreateTask(task); err != nil {
			return err
		}
		id = task.ID
		return nil
	})
	require.NoError(t, err)

	err = reader.View(func(tx Tx) error {
		task, err := tx.GetTask(id)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(7), task.ActionID)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	boom := errors.New("boom")

	err := store.Update(func(tx Tx) error {
		if err := tx.CreateTask(&types.Task{ActionID: 1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.View(func(tx Tx) error {
		tasks, err := tx.ListTasks(nil)
		assert.Empty(t, tasks)
		return err
	})
	require.NoError(t, err)
}

func TestEntities(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(func(tx Tx) error {
		cluster := &types.Entity{Kind: types.EntityCluster, Name: "c1", State: "created"}
		require.NoError(t, tx.PutEntity(cluster))
		assert.Equal(t, int64(1), cluster.ID)
		assert.False(t, cluster.CreatedAt.IsZero())

		// Explicit ids keep the sequence ahead
		host := &types.Entity{Kind: types.EntityHost, ID: 10, Name: "h10"}
		require.NoError(t, tx.PutEntity(host))
		next := &types.Entity{Kind: types.EntityHost, Name: "h11"}
		require.NoError(t, tx.PutEntity(next))
		assert.Equal(t, int64(11), next.ID)

		// Ids are allocated per kind
		svc := &types.Entity{Kind: types.EntityService, Name: "s1", ClusterID: cluster.ID}
		require.NoError(t, tx.PutEntity(svc))
		assert.Equal(t, int64(1), svc.ID)

		got, err := tx.GetEntity(types.EntityRef{Kind: types.EntityHost, ID: 10})
		require.NoError(t, err)
		assert.Equal(t, "h10", got.Name)

		hosts, err := tx.ListEntities(types.EntityHost)
		require.NoError(t, err)
		assert.Len(t, hosts, 2)

		require.NoError(t, tx.DeleteEntity(host.Ref()))
		_, err = tx.GetEntity(host.Ref())
		assert.ErrorIs(t, err, types.ErrNotFound)

		_, err = tx.ListEntities("bogus")
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestHostComponents(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(func(tx Tx) error {
		hc := []types.HostComponent{{HostID: 1, ServiceID: 2, ComponentID: 3}}
		require.NoError(t, tx.SetHostComponents(5, hc))

		got, err := tx.GetHostComponents(5)
		require.NoError(t, err)
		assert.Equal(t, hc, got)

		require.NoError(t, tx.SetHostComponents(5, nil))
		got, err = tx.GetHostComponents(5)
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	})
	require.NoError(t, err)
}

func TestActions(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(func(tx Tx) error {
		proto := &types.Prototype{Type: types.EntityCluster, Name: "hadoop", Version: "1.0"}
		require.NoError(t, tx.PutPrototype(proto))

		require.NoError(t, tx.PutAction(&types.Action{PrototypeID: proto.ID, Name: "install", Type: types.ActionTypeJob}))
		require.NoError(t, tx.PutAction(&types.Action{PrototypeID: proto.ID, Name: "restart", Type: types.ActionTypeTask}))
		require.NoError(t, tx.PutAction(&types.Action{PrototypeID: proto.ID + 1, Name: "other"}))

		actions, err := tx.ListActions(proto.ID)
		require.NoError(t, err)
		assert.Len(t, actions, 2)

		all, err := tx.ListActions(0)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		_, err = tx.GetAction(99)
		assert.ErrorIs(t, err, types.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestBackup(t *testing.T) {
	for _, shared := range []bool{false, true} {
		t.Run(map[bool]string{false: "exclusive", true: "shared"}[shared], func(t *testing.T) {
			dir := t.TempDir()
			store, err := NewBoltStore(filepath.Join(dir, "adcm.db"), Options{Shared: shared})
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.Update(func(tx Tx) error {
				return tx.CreateTask(&types.Task{ActionID: 1, Target: types.EntityRef{Kind: types.EntityCluster, ID: 1}, Status: types.StatusCreated})
			}))

			dst := filepath.Join(dir, "backup", "adcm.db.backup")
			require.NoError(t, store.Backup(dst))

			copied, err := NewBoltStore(dst, Options{})
			require.NoError(t, err)
			defer copied.Close()

			require.NoError(t, copied.View(func(tx Tx) error {
				task, err := tx.GetTask(1)
				require.NoError(t, err)
				assert.Equal(t, types.StatusCreated, task.Status)
				return nil
			}))
		})
	}
}
