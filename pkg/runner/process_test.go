package runner

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/arenadata/adcm/pkg/health"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Environment of a test binary re-executed as a runner process
const (
	envRunnerDB      = "ADCM_TEST_RUNNER_DB"
	envRunnerTask    = "ADCM_TEST_RUNNER_TASK"
	envRunnerJobs    = "ADCM_TEST_RUNNER_JOBS"
	envRunnerAnsible = "ADCM_TEST_RUNNER_ANSIBLE"
	envRunnerGrace   = "ADCM_TEST_RUNNER_GRACE"
)

func TestMain(m *testing.M) {
	if os.Getenv(envRunnerDB) != "" {
		os.Exit(runChild())
	}
	os.Exit(m.Run())
}

// runChild runs one task the way task_runner does: shared store, SIGTERM
// cancels the run
func runChild() int {
	store, err := storage.NewBoltStore(os.Getenv(envRunnerDB), storage.Options{
		Shared:      true,
		LockTimeout: 5 * time.Second,
	})
	if err != nil {
		return 2
	}
	defer store.Close()

	taskID, err := strconv.ParseInt(os.Getenv(envRunnerTask), 10, 64)
	if err != nil {
		return 2
	}
	grace, err := time.ParseDuration(os.Getenv(envRunnerGrace))
	if err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	manager := lifecycle.NewManager(store, nil, "test-host", grace)
	r := New(store, manager, nil, Options{
		JobsDir:    os.Getenv(envRunnerJobs),
		AnsibleBin: os.Getenv(envRunnerAnsible),
		Hostname:   "test-host",
		Grace:      grace,
		Env:        []string{"PATH=" + os.Getenv("PATH"), "FAKE_STUBBORN=stop"},
	})
	report, err := r.Run(ctx, taskID, CommandStart)
	if err != nil || report.Status != types.StatusSuccess {
		return 1
	}
	return 0
}

// startRunner spawns the test binary as a detached runner for task id and
// waits until its stubborn payload is running
func startRunner(t *testing.T, f *fixture, id int64, grace time.Duration) (runner *exec.Cmd, exited <-chan struct{}, payloadPID int) {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(),
		envRunnerDB+"="+f.dbPath,
		envRunnerTask+"="+strconv.FormatInt(id, 10),
		envRunnerJobs+"="+f.jobsDir,
		envRunnerAnsible+"="+f.bin,
		envRunnerGrace+"="+grace.String(),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-done
	})

	require.Eventually(t, func() bool {
		task, jobs := f.task(t, id)
		if task.PID != cmd.Process.Pid || jobs[0].Status != types.StatusRunning || jobs[0].PID <= 0 {
			return false
		}
		payloadPID = jobs[0].PID
		return true
	}, 10*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = lifecycle.KillGroup(payloadPID) })

	// Let the payload shell install its SIGTERM trap
	time.Sleep(300 * time.Millisecond)
	return cmd, done, payloadPID
}

func TestCancelStopsRunnerAndPayload(t *testing.T) {
	f := newFixtureWith(t, storage.Options{Shared: true, LockTimeout: 5 * time.Second})
	id := f.build(t, 1, cluster1)
	_, exited, payloadPID := startRunner(t, f, id, time.Second)

	manager := lifecycle.NewManager(f.store, nil, "test-host", time.Second)
	res, err := manager.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Signalled)
	assert.Equal(t, types.StatusAborted, res.Task.Status)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("runner still running after cancel")
	}
	assert.False(t, health.IsProcessAlive(payloadPID), "payload outlived its task")

	task, jobs := f.task(t, id)
	assert.Equal(t, types.StatusAborted, task.Status)
	assert.Equal(t, types.StatusAborted, jobs[0].Status)
	assert.False(t, f.locked(t, cluster1))
}

func TestKilledRunnerTakesPayloadDown(t *testing.T) {
	f := newFixtureWith(t, storage.Options{Shared: true, LockTimeout: 5 * time.Second})
	id := f.build(t, 1, cluster1)
	runner, exited, payloadPID := startRunner(t, f, id, 5*time.Second)

	require.NoError(t, runner.Process.Signal(syscall.SIGKILL))
	<-exited

	manager := lifecycle.NewManager(f.store, nil, "test-host", time.Second)
	task, err := manager.Broken(id, lifecycle.ReasonExecutorDead, "runner killed")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBroken, task.Status)

	assert.Eventually(t, func() bool { return !health.IsProcessAlive(payloadPID) }, 2*time.Second, 20*time.Millisecond)
	assert.False(t, f.locked(t, cluster1))
}

func TestPayloadGraceInsideRunnerGrace(t *testing.T) {
	for _, grace := range []time.Duration{time.Second, 10 * time.Second, 30 * time.Second} {
		assert.Less(t, payloadGrace(grace), grace)
		assert.Positive(t, payloadGrace(grace))
	}
}
