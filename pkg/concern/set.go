package concern

import (
	"fmt"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// ComputeConcernSet returns the entities a task against target must lock,
// sorted by kind and id:
//
//	cluster            the cluster, its services, components and bound hosts
//	service            the service and its cluster; with a mapping-changing
//	                   action also every component of the service
//	component          the component, its service and cluster; with a
//	                   mapping-changing action also its sibling components
//	host               the host and the cluster it is bound to
//	provider           the provider and its hosts
//	action-host-group  every host of the group and the owning entity
//	adcm               itself
func ComputeConcernSet(tx storage.Tx, target types.EntityRef, action *types.Action) ([]types.EntityRef, error) {
	e, err := tx.GetEntity(target)
	if err != nil {
		return nil, err
	}

	mutates := action != nil && action.MutatesMapping()
	set := newRefSet(target)

	switch target.Kind {
	case types.EntityCluster:
		for _, kind := range []types.EntityKind{types.EntityService, types.EntityComponent, types.EntityHost} {
			children, err := tx.ListEntities(kind)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if child.ClusterID == e.ID {
					set.add(child.Ref())
				}
			}
		}

	case types.EntityService:
		set.addCluster(e.ClusterID)
		if mutates {
			if err := set.addComponentsOf(tx, e.ID); err != nil {
				return nil, err
			}
		}

	case types.EntityComponent:
		set.add(types.EntityRef{Kind: types.EntityService, ID: e.ServiceID})
		set.addCluster(e.ClusterID)
		if mutates {
			if err := set.addComponentsOf(tx, e.ServiceID); err != nil {
				return nil, err
			}
		}

	case types.EntityHost:
		set.addCluster(e.ClusterID)

	case types.EntityProvider:
		hosts, err := tx.ListEntities(types.EntityHost)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			if h.ProviderID == e.ID {
				set.add(h.Ref())
			}
		}

	case types.EntityHostGroup:
		for _, id := range e.HostIDs {
			set.add(types.EntityRef{Kind: types.EntityHost, ID: id})
		}
		if e.Owner != nil {
			set.add(*e.Owner)
		}

	case types.EntityADCM:

	default:
		return nil, fmt.Errorf("cannot compute concern set for %s", target)
	}

	return set.sorted(), nil
}

type refSet map[types.EntityRef]bool

func newRefSet(refs ...types.EntityRef) refSet {
	s := make(refSet)
	for _, r := range refs {
		s.add(r)
	}
	return s
}

func (s refSet) add(ref types.EntityRef) {
	if ref.ID != 0 {
		s[ref] = true
	}
}

func (s refSet) addCluster(id int64) {
	s.add(types.EntityRef{Kind: types.EntityCluster, ID: id})
}

func (s refSet) addComponentsOf(tx storage.Tx, serviceID int64) error {
	components, err := tx.ListEntities(types.EntityComponent)
	if err != nil {
		return err
	}
	for _, c := range components {
		if c.ServiceID == serviceID {
			s.add(c.Ref())
		}
	}
	return nil
}

func (s refSet) sorted() []types.EntityRef {
	out := make([]types.EntityRef, 0, len(s))
	for ref := range s {
		out = append(out, ref)
	}
	sortRefs(out)
	return out
}
