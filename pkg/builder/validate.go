package builder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ConfigValidator checks task config against an action's JSON schema.
// Compiled schemas are cached per action id.
type ConfigValidator struct {
	mu      sync.Mutex
	schemas map[int64]*jsonschema.Schema
}

// NewConfigValidator creates an empty validator
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{schemas: make(map[int64]*jsonschema.Schema)}
}

// Validate returns a *types.ValidationError listing every schema violation
func (v *ConfigValidator) Validate(action *types.Action, config json.RawMessage) error {
	if len(action.ConfigSchema) == 0 {
		if isEmptyConfig(config) {
			return nil
		}
		return types.Invalidf("config", "action %q takes no config", action.Name)
	}

	schema, err := v.compile(action)
	if err != nil {
		return err
	}

	if len(bytes.TrimSpace(config)) == 0 {
		config = json.RawMessage("{}")
	}
	var doc any
	if err := json.Unmarshal(config, &doc); err != nil {
		return types.Invalidf("config", "not valid JSON: %v", err)
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &types.ValidationError{Field: "config", Problems: leafProblems(ve)}
		}
		return types.Invalidf("config", "%v", err)
	}
	return nil
}

func (v *ConfigValidator) compile(action *types.Action) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[action.ID]; ok {
		return s, nil
	}
	url := fmt.Sprintf("action-%d.json", action.ID)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(action.ConfigSchema)); err != nil {
		return nil, fmt.Errorf("action %d: bad config schema: %w", action.ID, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("action %d: bad config schema: %w", action.ID, err)
	}
	v.schemas[action.ID] = s
	return s, nil
}

func leafProblems(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafProblems(c)...)
	}
	return out
}

func isEmptyConfig(config json.RawMessage) bool {
	trimmed := bytes.TrimSpace(config)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

// checkAvailable rejects an action that does not apply to the target in its
// current state
func checkAvailable(tx storage.Tx, action *types.Action, target *types.Entity) error {
	if err := checkPrototype(tx, action, target); err != nil {
		return err
	}
	if !action.AvailableIn(target.State) {
		return types.Invalidf("action", "%q is not available in state %q of %s", action.Name, target.State, target.Ref())
	}
	for _, flag := range action.MultiStateUnavailable {
		if target.HasMultiState(flag) {
			return types.Invalidf("action", "%q is not available while %s carries %q", action.Name, target.Ref(), flag)
		}
	}
	if target.MaintenanceMode && !action.AllowInMaintenance {
		return types.Invalidf("action", "%s is in maintenance mode", target.Ref())
	}
	return nil
}

func checkPrototype(tx storage.Tx, action *types.Action, target *types.Entity) error {
	if action.PrototypeID == target.PrototypeID {
		return nil
	}
	if !action.HostAction || target.Kind != types.EntityHost {
		return types.Invalidf("action", "%q does not belong to %s", action.Name, target.Ref())
	}

	// A host action is declared on the cluster, a service or a component and
	// runs against a host carrying it
	if target.ClusterID == 0 {
		return types.Invalidf("action", "host action %q needs a host bound to a cluster", action.Name)
	}
	cluster, err := tx.GetEntity(types.EntityRef{Kind: types.EntityCluster, ID: target.ClusterID})
	if err != nil {
		return err
	}
	if cluster.PrototypeID == action.PrototypeID {
		return nil
	}
	hc, err := tx.GetHostComponents(target.ClusterID)
	if err != nil {
		return err
	}
	for _, entry := range hc {
		if entry.HostID != target.ID {
			continue
		}
		for _, ref := range []types.EntityRef{
			{Kind: types.EntityService, ID: entry.ServiceID},
			{Kind: types.EntityComponent, ID: entry.ComponentID},
		} {
			e, err := tx.GetEntity(ref)
			if err != nil {
				return err
			}
			if e.PrototypeID == action.PrototypeID {
				return nil
			}
		}
	}
	return types.Invalidf("action", "host action %q does not apply to %s", action.Name, target.Ref())
}

// checkHostComponent validates a mapping override against the cluster and
// the action's ACL
func checkHostComponent(tx storage.Tx, action *types.Action, target types.EntityRef, override []types.HostComponent) error {
	if !action.MutatesMapping() {
		return types.Invalidf("hostcomponent", "action %q does not change the mapping", action.Name)
	}
	clusterID, err := lifecycle.ClusterOf(tx, target)
	if err != nil {
		return err
	}
	if clusterID == 0 {
		return types.Invalidf("hostcomponent", "%s is not in a cluster", target)
	}

	var problems []string
	seen := make(map[types.HostComponent]bool, len(override))
	for _, entry := range override {
		if seen[entry] {
			problems = append(problems, fmt.Sprintf("duplicate entry host %d component %d", entry.HostID, entry.ComponentID))
			continue
		}
		seen[entry] = true
		if p := checkEntry(tx, clusterID, entry); p != "" {
			problems = append(problems, p)
		}
	}
	if len(problems) > 0 {
		return &types.ValidationError{Field: "hostcomponent", Problems: problems}
	}

	current, err := tx.GetHostComponents(clusterID)
	if err != nil {
		return err
	}
	added, removed := diffMapping(current, override)
	for _, entry := range added {
		if ok, err := permitted(tx, action, entry, "add"); err != nil {
			return err
		} else if !ok {
			problems = append(problems, fmt.Sprintf("adding component %d to host %d is not permitted", entry.ComponentID, entry.HostID))
		}
	}
	for _, entry := range removed {
		if ok, err := permitted(tx, action, entry, "remove"); err != nil {
			return err
		} else if !ok {
			problems = append(problems, fmt.Sprintf("removing component %d from host %d is not permitted", entry.ComponentID, entry.HostID))
		}
	}
	if len(problems) > 0 {
		return &types.ValidationError{Field: "hostcomponent", Problems: problems}
	}
	return nil
}

func checkEntry(tx storage.Tx, clusterID int64, entry types.HostComponent) string {
	host, err := tx.GetEntity(types.EntityRef{Kind: types.EntityHost, ID: entry.HostID})
	if err != nil {
		return fmt.Sprintf("host %d: %v", entry.HostID, err)
	}
	if host.ClusterID != clusterID {
		return fmt.Sprintf("host %d is not bound to cluster %d", entry.HostID, clusterID)
	}
	comp, err := tx.GetEntity(types.EntityRef{Kind: types.EntityComponent, ID: entry.ComponentID})
	if err != nil {
		return fmt.Sprintf("component %d: %v", entry.ComponentID, err)
	}
	if comp.ClusterID != clusterID || comp.ServiceID != entry.ServiceID {
		return fmt.Sprintf("component %d does not belong to service %d of cluster %d", entry.ComponentID, entry.ServiceID, clusterID)
	}
	return ""
}

func diffMapping(current, next []types.HostComponent) (added, removed []types.HostComponent) {
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
	sortMapping(added)
	sortMapping(removed)
	return added, removed
}

func sortMapping(hc []types.HostComponent) {
	sort.Slice(hc, func(i, j int) bool {
		if hc[i].HostID != hc[j].HostID {
			return hc[i].HostID < hc[j].HostID
		}
		return hc[i].ComponentID < hc[j].ComponentID
	})
}

// permitted matches an entry against the ACL by service and component
// prototype names
func permitted(tx storage.Tx, action *types.Action, entry types.HostComponent, op string) (bool, error) {
	service, err := prototypeName(tx, types.EntityRef{Kind: types.EntityService, ID: entry.ServiceID})
	if err != nil {
		return false, err
	}
	component, err := prototypeName(tx, types.EntityRef{Kind: types.EntityComponent, ID: entry.ComponentID})
	if err != nil {
		return false, err
	}
	for _, acl := range action.HostComponentACL {
		if acl.Action == op && acl.Service == service && acl.Component == component {
			return true, nil
		}
	}
	return false, nil
}

func prototypeName(tx storage.Tx, ref types.EntityRef) (string, error) {
	e, err := tx.GetEntity(ref)
	if err != nil {
		return "", err
	}
	p, err := tx.GetPrototype(e.PrototypeID)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}
