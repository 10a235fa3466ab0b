package queuer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arenadata/adcm/pkg/config"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "adcm.db"), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLocalQueue(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	bin := filepath.Join(dir, "task_runner")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho \"$@\" > \"$QUEUER_TEST_OUT\"\n"), 0755))

	q := NewLocal(LocalOptions{RunnerBin: bin, Hostname: "node-1", Env: []string{"QUEUER_TEST_OUT=" + out}})
	assert.Equal(t, "local", q.Name())

	info, err := q.Queue(context.Background(), &types.Task{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutorLocal, info.Kind)
	assert.Equal(t, "node-1", info.Hostname)
	assert.Positive(t, info.PID)
	assert.NotEmpty(t, info.RunID)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(data)) == "start 7"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLocalQueueAppendsRunnerOutput(t *testing.T) {
	dir := t.TempDir()
	errFile := filepath.Join(dir, "log", "task_runner.err")
	require.NoError(t, os.MkdirAll(filepath.Dir(errFile), 0755))
	require.NoError(t, os.WriteFile(errFile, []byte("earlier line\n"), 0644))

	bin := filepath.Join(dir, "task_runner")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho \"Error: task $2 not found\" >&2\necho \"stdout $2\"\nexit 2\n"), 0755))

	q := NewLocal(LocalOptions{RunnerBin: bin, ErrFile: errFile})
	for _, id := range []int64{3, 4} {
		_, err := q.Queue(context.Background(), &types.Task{ID: id})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(errFile)
		if err != nil {
			return false
		}
		out := string(data)
		return strings.HasPrefix(out, "earlier line\n") &&
			strings.Contains(out, "Error: task 3 not found\n") &&
			strings.Contains(out, "Error: task 4 not found\n") &&
			strings.Contains(out, "stdout 4\n")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewLocalWritesToRunnerErrPath(t *testing.T) {
	cfg := &config.Config{Queuer: config.QueuerLocal, RunnerBin: "task_runner", LogDir: "/var/log/adcm"}
	q, err := New(cfg, nil)
	require.NoError(t, err)
	local, ok := q.(*Local)
	require.True(t, ok)
	assert.Equal(t, "/var/log/adcm/task_runner.err", local.opts.ErrFile)
}

func TestLocalQueueMissingBinary(t *testing.T) {
	q := NewLocal(LocalOptions{RunnerBin: filepath.Join(t.TempDir(), "missing")})
	_, err := q.Queue(context.Background(), &types.Task{ID: 1})
	assert.ErrorIs(t, err, types.ErrWorkerUnavailable)
}

func TestLocalQueueCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(LocalOptions{RunnerBin: "true"}).Queue(ctx, &types.Task{ID: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerQueue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		heartbeats []*types.Heartbeat
		queued     []*types.WorkItem
		want       string
		wantErr    error
	}{
		{
			name:    "no workers",
			wantErr: types.ErrWorkerUnavailable,
		},
		{
			name: "only stale workers",
			heartbeats: []*types.Heartbeat{
				{Hostname: "w1", WorkerID: "a", Timestamp: now.Add(-time.Minute)},
			},
			wantErr: types.ErrWorkerUnavailable,
		},
		{
			name: "least loaded live worker",
			heartbeats: []*types.Heartbeat{
				{Hostname: "w1", WorkerID: "a", Timestamp: now.Add(-time.Second)},
				{Hostname: "w2", WorkerID: "b", Timestamp: now.Add(-2 * time.Second)},
				{Hostname: "w3", WorkerID: "c", Timestamp: now.Add(-time.Hour)},
			},
			queued: []*types.WorkItem{{TaskID: 100, Hostname: "w1", EnqueuedAt: now}},
			want:   "w2",
		},
		{
			name: "tie goes to first hostname",
			heartbeats: []*types.Heartbeat{
				{Hostname: "w2", WorkerID: "b", Timestamp: now},
				{Hostname: "w1", WorkerID: "a", Timestamp: now},
			},
			want: "w1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			require.NoError(t, store.Update(func(tx storage.Tx) error {
				for _, hb := range tt.heartbeats {
					if err := tx.PutHeartbeat(hb); err != nil {
						return err
					}
				}
				for _, item := range tt.queued {
					if err := tx.EnqueueWork(item); err != nil {
						return err
					}
				}
				return nil
			}))

			q := NewWorker(store, 30*time.Second)
			q.now = func() time.Time { return now }

			info, err := q.Queue(context.Background(), &types.Task{ID: 5})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.ExecutorWorker, info.Kind)
			assert.Equal(t, tt.want, info.Hostname)
			assert.NotEmpty(t, info.WorkerID)

			require.NoError(t, store.View(func(tx storage.Tx) error {
				items, err := tx.ListWork()
				require.NoError(t, err)
				var found *types.WorkItem
				for _, item := range items {
					if item.TaskID == 5 {
						found = item
					}
				}
				require.NotNil(t, found)
				assert.Equal(t, tt.want, found.Hostname)
				assert.Equal(t, info.RunID, found.RunID)
				return nil
			}))
		})
	}
}

func TestNewSelectsByConfig(t *testing.T) {
	store := newTestStore(t)

	q, err := New(&config.Config{Queuer: config.QueuerLocal, RunnerBin: "task_runner"}, store)
	require.NoError(t, err)
	assert.Equal(t, "local", q.Name())

	q, err = New(&config.Config{Queuer: config.QueuerWorker}, store)
	require.NoError(t, err)
	assert.Equal(t, "worker", q.Name())

	_, err = New(&config.Config{Queuer: "celery"}, store)
	assert.Error(t, err)
}
