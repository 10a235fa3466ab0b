// Package inventory renders the Ansible inventory document handed to a job
// payload. Render is a pure function of its Input; Gather collects the
// Input from a store transaction.
package inventory

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/arenadata/adcm/pkg/types"
)

// Group names that do not come from services and components
const (
	GroupCluster  = "CLUSTER"
	GroupHost     = "HOST"
	GroupProvider = "PROVIDER"
	GroupTarget   = "TARGET"
)

// Inventory is the top-level Ansible YAML/JSON inventory
type Inventory struct {
	All Group `json:"all"`
}

// Group is an Ansible host group
type Group struct {
	Hosts    map[string]HostVars `json:"hosts,omitempty"`
	Children map[string]Group    `json:"children,omitempty"`
	Vars     map[string]any      `json:"vars,omitempty"`
}

// HostVars are per-host variables
type HostVars map[string]any

// Input is everything the renderer needs, resolved by id
type Input struct {
	Task   *types.Task
	Job    *types.Job
	Action *types.Action
	Target *types.Entity

	Cluster    *types.Entity
	Services   []*types.Entity
	Components []*types.Entity
	Hosts      []*types.Entity

	// Mapping is the cluster mapping the job sees: the override when the
	// task carries one, otherwise the build-time snapshot
	Mapping []types.HostComponent

	// Prototype of the target, used for the bundle path
	Prototype *types.Prototype

	RunDir string
}

// Render builds the inventory for one job
func Render(in *Input) (*Inventory, error) {
	if in.Task == nil || in.Job == nil || in.Target == nil {
		return nil, fmt.Errorf("inventory: task, job and target are required")
	}

	hosts := make(map[int64]*types.Entity, len(in.Hosts))
	for _, h := range in.Hosts {
		hosts[h.ID] = h
	}
	services := make(map[int64]*types.Entity, len(in.Services))
	for _, s := range in.Services {
		services[s.ID] = s
	}
	components := make(map[int64]*types.Entity, len(in.Components))
	for _, c := range in.Components {
		components[c.ID] = c
	}

	children := make(map[string]Group)
	addHost := func(group string, h *types.Entity) {
		g := children[group]
		if g.Hosts == nil {
			g.Hosts = make(map[string]HostVars)
		}
		g.Hosts[h.Name] = hostVars(h)
		children[group] = g
	}

	if in.Cluster != nil {
		for _, h := range in.Hosts {
			if h.ClusterID == in.Cluster.ID {
				addHost(GroupCluster, h)
			}
		}
		for _, entry := range in.Mapping {
			h, s, c := hosts[entry.HostID], services[entry.ServiceID], components[entry.ComponentID]
			if h == nil || s == nil || c == nil {
				return nil, fmt.Errorf("inventory: mapping entry %+v refers to an unknown object", entry)
			}
			addHost(s.Name, h)
			addHost(s.Name+"."+c.Name, h)
		}
		if in.Task.HostComponentOverride != nil {
			added, removed := diff(in.Task.HostComponent, in.Task.HostComponentOverride)
			for _, entry := range added {
				if h, s, c := hosts[entry.HostID], services[entry.ServiceID], components[entry.ComponentID]; h != nil && s != nil && c != nil {
					addHost(s.Name+"."+c.Name+".add", h)
				}
			}
			for _, entry := range removed {
				if h, s, c := hosts[entry.HostID], services[entry.ServiceID], components[entry.ComponentID]; h != nil && s != nil && c != nil {
					addHost(s.Name+"."+c.Name+".remove", h)
				}
			}
		}
	}

	switch in.Target.Kind {
	case types.EntityHost:
		addHost(GroupHost, in.Target)
	case types.EntityProvider:
		for _, h := range in.Hosts {
			if h.ProviderID == in.Target.ID {
				addHost(GroupProvider, h)
			}
		}
	case types.EntityHostGroup:
		for _, id := range in.Target.HostIDs {
			if h := hosts[id]; h != nil {
				addHost(GroupTarget, h)
			}
		}
	}

	vars := map[string]any{
		"job": jobVars(in),
		"env": envVars(in),
	}
	if in.Cluster != nil {
		vars["cluster"] = entityVars(in.Cluster)
		vars["services"] = serviceVars(in)
	}
	if in.Job.HostID != 0 {
		h := hosts[in.Job.HostID]
		if h == nil {
			return nil, fmt.Errorf("inventory: job %d targets unknown host %d", in.Job.ID, in.Job.HostID)
		}
		children[GroupTarget] = Group{Hosts: map[string]HostVars{h.Name: hostVars(h)}}
	}

	return &Inventory{All: Group{Children: children, Vars: vars}}, nil
}

// Marshal renders the inventory as indented JSON
func (inv *Inventory) Marshal() ([]byte, error) {
	return json.MarshalIndent(inv, "", "    ")
}

// HostNames returns the sorted host names of a group, or nil
func (inv *Inventory) HostNames(group string) []string {
	g, ok := inv.All.Children[group]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(g.Hosts))
	for name := range g.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func hostVars(h *types.Entity) HostVars {
	return HostVars{
		"adcm_hostid":      h.ID,
		"state":            h.State,
		"multi_state":      nonNil(h.MultiState),
		"maintenance_mode": h.MaintenanceMode,
	}
}

func entityVars(e *types.Entity) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"name":        e.Name,
		"state":       e.State,
		"multi_state": nonNil(e.MultiState),
	}
}

func serviceVars(in *Input) map[string]any {
	out := make(map[string]any, len(in.Services))
	for _, s := range in.Services {
		sv := entityVars(s)
		comps := make(map[string]any)
		for _, c := range in.Components {
			if c.ServiceID == s.ID {
				comps[c.Name] = entityVars(c)
			}
		}
		sv["components"] = comps
		out[s.Name] = sv
	}
	return out
}

func jobVars(in *Input) map[string]any {
	v := map[string]any{
		"id":          in.Job.ID,
		"task_id":     in.Task.ID,
		"name":        in.Job.Name,
		"script":      in.Job.Script,
		"verbose":     in.Task.Verbose,
		"hostgroup":   string(in.Target.Kind),
		"target_id":   in.Target.ID,
		"target_name": in.Target.Name,
	}
	if in.Action != nil {
		v["action"] = in.Action.Name
		if len(in.Action.Params) > 0 {
			v["params"] = json.RawMessage(in.Action.Params)
		}
	}
	if len(in.Task.Config) > 0 {
		v["config"] = json.RawMessage(in.Task.Config)
	}
	if in.Job.HostID != 0 {
		v["hostgroup"] = GroupTarget
	}
	return v
}

func envVars(in *Input) map[string]any {
	v := map[string]any{
		"run_dir": in.RunDir,
	}
	if in.Prototype != nil {
		v["stack_dir"] = in.Prototype.Path
	}
	return v
}

func diff(current, next []types.HostComponent) (added, removed []types.HostComponent) {
	inCurrent := make(map[types.HostComponent]bool, len(current))
	for _, e := range current {
		inCurrent[e] = true
	}
	inNext := make(map[types.HostComponent]bool, len(next))
	for _, e := range next {
		inNext[e] = true
		if !inCurrent[e] {
			added = append(added, e)
		}
	}
	for _, e := range current {
		if !inNext[e] {
			removed = append(removed, e)
		}
	}
	return added, removed
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
