package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityKind identifies the type of an object a task can target
type EntityKind string

const (
	EntityCluster   EntityKind = "cluster"
	EntityService   EntityKind = "service"
	EntityComponent EntityKind = "component"
	EntityHost      EntityKind = "host"
	EntityProvider  EntityKind = "provider"
	EntityADCM      EntityKind = "adcm"
	EntityHostGroup EntityKind = "action-host-group"
)

// EntityKinds lists every kind in a stable order
var EntityKinds = []EntityKind{
	EntityCluster,
	EntityService,
	EntityComponent,
	EntityHost,
	EntityProvider,
	EntityADCM,
	EntityHostGroup,
}

// Valid reports whether k is a known entity kind
func (k EntityKind) Valid() bool {
	for _, known := range EntityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EntityRef is a polymorphic (kind, id) reference to an entity
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   int64      `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// IsZero reports whether the reference is unset
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// ParseEntityRef parses the "kind:id" form produced by EntityRef.String
func ParseEntityRef(s string) (EntityRef, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q: expected kind:id", s)
	}
	kind := EntityKind(s[:idx])
	if !kind.Valid() {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q: unknown kind %q", s, kind)
	}
	id, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil || id <= 0 {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q: bad id", s)
	}
	return EntityRef{Kind: kind, ID: id}, nil
}

// Entity is a record in the entity arena. Relations are stored as ids and
// resolved through the store, never embedded by value.
type Entity struct {
	Kind            EntityKind `json:"kind"`
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	PrototypeID     int64      `json:"prototype_id"`
	State           string     `json:"state"`
	MultiState      []string   `json:"multi_state,omitempty"`
	MaintenanceMode bool       `json:"maintenance_mode,omitempty"`

	// ClusterID is set for services, components and cluster-bound hosts
	ClusterID int64 `json:"cluster_id,omitempty"`
	// ServiceID is set for components
	ServiceID int64 `json:"service_id,omitempty"`
	// ProviderID is set for hosts
	ProviderID int64 `json:"provider_id,omitempty"`

	// Owner and HostIDs are set for action host groups
	Owner   *EntityRef `json:"owner,omitempty"`
	HostIDs []int64    `json:"host_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the entity's descriptor
func (e *Entity) Ref() EntityRef {
	return EntityRef{Kind: e.Kind, ID: e.ID}
}

// HasMultiState reports whether the entity carries the given multi-state flag
func (e *Entity) HasMultiState(flag string) bool {
	for _, s := range e.MultiState {
		if s == flag {
			return true
		}
	}
	return false
}

// SetMultiState adds a multi-state flag if absent
func (e *Entity) SetMultiState(flag string) {
	if !e.HasMultiState(flag) {
		e.MultiState = append(e.MultiState, flag)
	}
}

// UnsetMultiState removes a multi-state flag if present
func (e *Entity) UnsetMultiState(flag string) {
	kept := e.MultiState[:0]
	for _, s := range e.MultiState {
		if s != flag {
			kept = append(kept, s)
		}
	}
	e.MultiState = kept
}

// HostComponent binds one component instance to one host
type HostComponent struct {
	HostID      int64 `json:"host_id"`
	ServiceID   int64 `json:"service_id"`
	ComponentID int64 `json:"component_id"`
}

// Prototype is the declarative type of an entity, coming from a bundle
type Prototype struct {
	ID       int64      `json:"id"`
	Type     EntityKind `json:"type"`
	Name     string     `json:"name"`
	Version  string     `json:"version"`
	BundleID int64      `json:"bundle_id,omitempty"`
	Path     string     `json:"path,omitempty"` // bundle directory holding scripts
}

// ActionType selects between a single-job action and a multi-job task
type ActionType string

const (
	ActionTypeJob  ActionType = "job"
	ActionTypeTask ActionType = "task"
)

// ScriptType selects how a job payload is produced
type ScriptType string

const (
	ScriptTypeAnsible       ScriptType = "ansible"
	ScriptTypeTaskGenerator ScriptType = "task-generator"
)

// StateAny makes an action available in every entity state
const StateAny = "any"

// OnFailContinue lets a task proceed past a failed sub-action
const OnFailContinue = "continue"

// HostComponentACL permits an action to add or remove a component on hosts
type HostComponentACL struct {
	Service   string `json:"service" yaml:"service"`
	Component string `json:"component" yaml:"component"`
	Action    string `json:"action" yaml:"action"` // "add" or "remove"
}

// StateEffects describes entity state changes applied by an action outcome
type StateEffects struct {
	State           string   `json:"state,omitempty" yaml:"state,omitempty"`
	MultiStateSet   []string `json:"multi_state_set,omitempty" yaml:"multi_state_set,omitempty"`
	MultiStateUnset []string `json:"multi_state_unset,omitempty" yaml:"multi_state_unset,omitempty"`
}

// IsZero reports whether the effects change nothing
func (s StateEffects) IsZero() bool {
	return s.State == "" && len(s.MultiStateSet) == 0 && len(s.MultiStateUnset) == 0
}

// Apply mutates the entity according to the effects
func (s StateEffects) Apply(e *Entity) {
	if s.State != "" {
		e.State = s.State
	}
	for _, flag := range s.MultiStateSet {
		e.SetMultiState(flag)
	}
	for _, flag := range s.MultiStateUnset {
		e.UnsetMultiState(flag)
	}
}

// SubAction is one step of a task-type action
type SubAction struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	DisplayName   string          `json:"display_name,omitempty"`
	Script        string          `json:"script"`
	ScriptType    ScriptType      `json:"script_type"`
	Params        json.RawMessage `json:"params,omitempty"`
	OnFail        string          `json:"on_fail,omitempty"`
	Timeout       int             `json:"timeout,omitempty"` // seconds
	OnFailEffects StateEffects    `json:"on_fail_effects,omitempty"`
}

// Action is immutable metadata describing a unit of work. Read-only to the
// job subsystem; loaded by the bundle loader or seed files.
type Action struct {
	ID                    int64              `json:"id"`
	PrototypeID           int64              `json:"prototype_id"`
	Name                  string             `json:"name"`
	DisplayName           string             `json:"display_name,omitempty"`
	Type                  ActionType         `json:"type"`
	ScriptType            ScriptType         `json:"script_type"`
	Script                string             `json:"script,omitempty"`
	Params                json.RawMessage    `json:"params,omitempty"`
	Venv                  string             `json:"venv,omitempty"`
	HostAction            bool               `json:"host_action,omitempty"`
	AllowInMaintenance    bool               `json:"allow_in_maintenance,omitempty"`
	StatesAvailable       []string           `json:"states_available,omitempty"`
	MultiStateUnavailable []string           `json:"multi_state_unavailable,omitempty"`
	OnSuccess             StateEffects       `json:"on_success,omitempty"`
	OnFail                StateEffects       `json:"on_fail,omitempty"`
	HostComponentACL      []HostComponentACL `json:"hc_acl,omitempty"`
	ConfigSchema          json.RawMessage    `json:"config_schema,omitempty"`
	Timeout               int                `json:"timeout,omitempty"` // seconds
	SubActions            []SubAction        `json:"sub_actions,omitempty"`
}

// MutatesMapping reports whether the action may change host-component mapping
func (a *Action) MutatesMapping() bool {
	return len(a.HostComponentACL) > 0
}

// AvailableIn reports whether the action can run against an entity in the given state
func (a *Action) AvailableIn(state string) bool {
	if len(a.StatesAvailable) == 0 {
		return true
	}
	for _, s := range a.StatesAvailable {
		if s == StateAny || s == state {
			return true
		}
	}
	return false
}

// SubAction returns the sub-action with the given id
func (a *Action) SubAction(id int64) (*SubAction, bool) {
	for i := range a.SubActions {
		if a.SubActions[i].ID == id {
			return &a.SubActions[i], true
		}
	}
	return nil, false
}

// ExecutorKind identifies where a task runs
type ExecutorKind string

const (
	ExecutorLocal  ExecutorKind = "local"
	ExecutorWorker ExecutorKind = "worker"
)

// WorkerInfo is the executor record describing which worker runs a task
type WorkerInfo struct {
	Kind     ExecutorKind      `json:"kind"`
	Hostname string            `json:"hostname,omitempty"`
	PID      int               `json:"pid,omitempty"`
	WorkerID string            `json:"worker_id,omitempty"`
	RunID    string            `json:"run_id,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Task is one run of an action against a target entity
type Task struct {
	ID       int64       `json:"id"`
	ActionID int64       `json:"action_id"`
	Target   EntityRef   `json:"target"`
	Executor *WorkerInfo `json:"executor,omitempty"`
	PID      int         `json:"pid,omitempty"`
	Verbose  bool        `json:"verbose,omitempty"`

	Config                   json.RawMessage `json:"config,omitempty"`
	Attr                     json.RawMessage `json:"attr,omitempty"`
	HostComponent            []HostComponent `json:"hostcomponent,omitempty"`
	HostComponentOverride    []HostComponent `json:"hostcomponent_override,omitempty"`
	PostUpgradeHostComponent json.RawMessage `json:"post_upgrade_hostcomponent,omitempty"`

	Status         Status     `json:"status"`
	LockID         int64      `json:"lock_id,omitempty"`
	AbortRequested bool       `json:"abort_requested,omitempty"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	BrokenReason   string     `json:"broken_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	FinishDate     *time.Time `json:"finish_date,omitempty"`
}

// Job is one step of a task
type Job struct {
	ID          int64      `json:"id"`
	TaskID      int64      `json:"task_id"`
	Order       int        `json:"order"`
	SubActionID int64      `json:"sub_action_id,omitempty"`
	Name        string     `json:"name"`
	Script      string     `json:"script,omitempty"`
	HostID      int64      `json:"host_id,omitempty"` // set by per-host generators
	Status      Status     `json:"status"`
	PID         int        `json:"pid,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	FinishDate  *time.Time `json:"finish_date,omitempty"`

	OnFail StateEffects `json:"on_fail,omitempty"`
}

// LogArtifact indexes an on-disk log file produced by a job
type LogArtifact struct {
	ID     int64  `json:"id"`
	JobID  int64  `json:"job_id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Format string `json:"format"`
}

// FileName returns the artifact's file name inside its job directory
func (l *LogArtifact) FileName() string {
	return fmt.Sprintf("%s-%s.%s", l.Name, l.Type, l.Format)
}

// ConcernKind is the type of a concern marker
type ConcernKind string

const (
	ConcernLock  ConcernKind = "lock"
	ConcernIssue ConcernKind = "issue"
	ConcernFlag  ConcernKind = "flag"
)

// ConcernCause names why a concern exists
type ConcernCause string

const (
	CauseJob           ConcernCause = "job"
	CauseConfig        ConcernCause = "config"
	CauseHostComponent ConcernCause = "hostcomponent"
)

// Concern is a typed marker attached to one or more entities
type Concern struct {
	ID              int64        `json:"id"`
	Kind            ConcernKind  `json:"kind"`
	Cause           ConcernCause `json:"cause"`
	MessageTemplate string       `json:"message_template"`
	Owner           EntityRef    `json:"owner"`
	TaskID          int64        `json:"task_id,omitempty"`
	Related         []EntityRef  `json:"related,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Heartbeat is the liveness row written by a distributed worker
type Heartbeat struct {
	Hostname  string    `json:"hostname"`
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkItem is a task placed on the distributed worker queue
type WorkItem struct {
	TaskID     int64      `json:"task_id"`
	Hostname   string     `json:"hostname"`
	RunID      string     `json:"run_id"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
}
