package builder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// Generator produces the job plan of a task-generator action at build time.
// Returned jobs need only Name, Script and the optional HostID; the builder
// assigns order and status.
type Generator func(tx storage.Tx, action *types.Action, target *types.Entity) ([]*types.Job, error)

// Registry maps generator names (the action's script) to generators
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry creates a registry holding the built-in generators
func NewRegistry() *Registry {
	r := &Registry{generators: make(map[string]Generator)}
	r.Register("per_host", PerHost)
	return r
}

// Register adds or replaces a generator
func (r *Registry) Register(name string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = g
}

// Get looks up a generator by name
func (r *Registry) Get(name string) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[name]
	return g, ok
}

// Names lists registered generators in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PerHost emits one job per host reachable from the target, in host id order.
// Each job runs <action name>.yaml limited to its host.
func PerHost(tx storage.Tx, action *types.Action, target *types.Entity) ([]*types.Job, error) {
	hosts, err := targetHosts(tx, target)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, types.Invalidf("action", "%q: %s has no hosts", action.Name, target.Ref())
	}

	script := action.Name + ".yaml"
	jobs := make([]*types.Job, 0, len(hosts))
	for _, h := range hosts {
		jobs = append(jobs, &types.Job{
			Name:   fmt.Sprintf("%s:%s", action.Name, h.Name),
			Script: script,
			HostID: h.ID,
		})
	}
	return jobs, nil
}

func targetHosts(tx storage.Tx, target *types.Entity) ([]*types.Entity, error) {
	var filter func(*types.Entity) bool
	switch target.Kind {
	case types.EntityHost:
		return []*types.Entity{target}, nil
	case types.EntityCluster:
		filter = func(h *types.Entity) bool { return h.ClusterID == target.ID }
	case types.EntityProvider:
		filter = func(h *types.Entity) bool { return h.ProviderID == target.ID }
	case types.EntityHostGroup:
		members := make(map[int64]bool, len(target.HostIDs))
		for _, id := range target.HostIDs {
			members[id] = true
		}
		filter = func(h *types.Entity) bool { return members[h.ID] }
	case types.EntityService, types.EntityComponent:
		hc, err := tx.GetHostComponents(target.ClusterID)
		if err != nil {
			return nil, err
		}
		members := make(map[int64]bool)
		for _, e := range hc {
			if (target.Kind == types.EntityService && e.ServiceID == target.ID) ||
				(target.Kind == types.EntityComponent && e.ComponentID == target.ID) {
				members[e.HostID] = true
			}
		}
		filter = func(h *types.Entity) bool { return members[h.ID] }
	default:
		return nil, nil
	}

	all, err := tx.ListEntities(types.EntityHost)
	if err != nil {
		return nil, err
	}
	var hosts []*types.Entity
	for _, h := range all {
		if filter(h) {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}
