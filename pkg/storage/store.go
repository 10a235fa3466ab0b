package storage

import (
	"time"

	"github.com/arenadata/adcm/pkg/types"
)

// Store defines the interface for job subsystem state storage.
// All mutations go through Update; a returned error rolls the transaction back.
type Store interface {
	Update(fn func(tx Tx) error) error
	View(fn func(tx Tx) error) error
	Close() error
}

// Tx is a single read or read-write transaction against the store
type Tx interface {
	// Entities
	PutEntity(e *types.Entity) error
	GetEntity(ref types.EntityRef) (*types.Entity, error)
	ListEntities(kind types.EntityKind) ([]*types.Entity, error)
	DeleteEntity(ref types.EntityRef) error
	GetHostComponents(clusterID int64) ([]types.HostComponent, error)
	SetHostComponents(clusterID int64, hc []types.HostComponent) error

	// Prototypes and actions
	PutPrototype(p *types.Prototype) error
	GetPrototype(id int64) (*types.Prototype, error)
	PutAction(a *types.Action) error
	GetAction(id int64) (*types.Action, error)
	ListActions(prototypeID int64) ([]*types.Action, error)

	// Tasks
	CreateTask(t *types.Task) error
	GetTask(id int64) (*types.Task, error)
	ListTasks(filter func(*types.Task) bool) ([]*types.Task, error)
	ListUnfinished() ([]*types.Task, error)
	UpdateTask(id int64, patch TaskPatch) (*types.Task, error)
	PutTask(t *types.Task) error
	NextQueued(claimer string, ttl time.Duration, now time.Time) (*types.Task, error)
	ReleaseClaim(id int64, claimer string) error

	// Jobs
	AppendJob(j *types.Job) error
	GetJob(id int64) (*types.Job, error)
	ListJobs(taskID int64) ([]*types.Job, error)
	UpdateJob(id int64, patch JobPatch) (*types.Job, error)

	// Log artifacts
	CreateLog(l *types.LogArtifact) error
	ListLogs(jobID int64) ([]*types.LogArtifact, error)

	// Concerns
	CreateConcern(c *types.Concern) error
	GetConcern(id int64) (*types.Concern, error)
	PutConcern(c *types.Concern) error
	ListConcerns(kind types.ConcernKind) ([]*types.Concern, error)
	DeleteConcern(id int64) error
	LinkConcern(ref types.EntityRef, concernID int64) error
	UnlinkConcern(ref types.EntityRef, concernID int64) error
	EntityConcerns(ref types.EntityRef) ([]int64, error)

	// Distributed workers
	PutHeartbeat(hb *types.Heartbeat) error
	GetHeartbeat(hostname string) (*types.Heartbeat, error)
	ListHeartbeats() ([]*types.Heartbeat, error)
	EnqueueWork(item *types.WorkItem) error
	ClaimWork(hostname string, now time.Time) (*types.WorkItem, error)
	ListWork() ([]*types.WorkItem, error)
	DeleteWork(taskID int64) error
}

// TaskPatch lists the task fields an update may change. Nil fields are left alone.
type TaskPatch struct {
	Status         *types.Status
	PID            *int
	StartDate      *time.Time
	FinishDate     *time.Time
	Executor       *types.WorkerInfo
	AbortRequested *bool
	BrokenReason   *string
}

// JobPatch lists the job fields an update may change. Nil fields are left alone.
type JobPatch struct {
	Status     *types.Status
	PID        *int
	StartDate  *time.Time
	FinishDate *time.Time
}

// StatusPtr is a helper for building patches
func StatusPtr(s types.Status) *types.Status { return &s }

// IntPtr is a helper for building patches
func IntPtr(i int) *int { return &i }

// TimePtr is a helper for building patches
func TimePtr(t time.Time) *time.Time { return &t }

// BoolPtr is a helper for building patches
func BoolPtr(b bool) *bool { return &b }

// StringPtr is a helper for building patches
func StringPtr(s string) *string { return &s }
