package builder

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/arenadata/adcm/pkg/seed"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openShared opens n stores on one database file the way separate
// processes do
func openShared(t *testing.T, n int) []storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adcm.db")
	stores := make([]storage.Store, n)
	for i := range stores {
		s, err := storage.NewBoltStore(path, storage.Options{Shared: true, LockTimeout: 10 * time.Second})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		stores[i] = s
	}

	f, err := seed.LoadFile("../seed/testdata/cluster.yaml")
	require.NoError(t, err)
	_, err = f.Apply(stores[0])
	require.NoError(t, err)
	return stores
}

func TestConcurrentBuildsHoldOneLock(t *testing.T) {
	stores := openShared(t, 2)

	// Every request's concern set contains cluster 1
	requests := []Request{
		{ActionID: 1, Target: cluster1},
		{ActionID: 4, Target: types.EntityRef{Kind: types.EntityService, ID: 1}},
		{ActionID: 5, Target: types.EntityRef{Kind: types.EntityHost, ID: 1}},
		{ActionID: 7, Target: types.EntityRef{Kind: types.EntityComponent, ID: 1}},
	}

	const rounds = 3
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		built   []*Result
		busy    int
		unknown []error
	)
	for i := 0; i < rounds*len(requests); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := New(stores[i%len(stores)], nil)
			<-start
			res, err := b.Build(requests[i%len(requests)])

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				built = append(built, res)
			case errors.Is(err, types.ErrTargetBusy):
				busy++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, unknown)
	require.Len(t, built, 1)
	assert.Equal(t, rounds*len(requests)-1, busy)

	require.NoError(t, stores[1].View(func(tx storage.Tx) error {
		tasks, err := tx.ListTasks(nil)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
		locks, err := tx.ListConcerns(types.ConcernLock)
		require.NoError(t, err)
		require.Len(t, locks, 1)
		assert.Equal(t, built[0].TaskID, locks[0].TaskID)
		return nil
	}))
}

func TestConcurrentBuildsOnDisjointTargets(t *testing.T) {
	stores := openShared(t, 2)

	requests := []Request{
		{ActionID: 1, Target: cluster1},
		{ActionID: 2, Target: cluster2},
		{ActionID: 5, Target: host3},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(requests))
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			_, errs[i] = New(stores[i%len(stores)], nil).Build(req)
		}(i, req)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
}
