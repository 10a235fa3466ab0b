package inventory

import (
	"errors"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// Gather reads the objects a job's inventory refers to
func Gather(tx storage.Tx, task *types.Task, job *types.Job, runDir string) (*Input, error) {
	in := &Input{Task: task, Job: job, RunDir: runDir}

	action, err := tx.GetAction(task.ActionID)
	if err != nil {
		return nil, err
	}
	in.Action = action

	if in.Target, err = tx.GetEntity(task.Target); err != nil {
		return nil, err
	}
	if p, err := tx.GetPrototype(in.Target.PrototypeID); err == nil {
		in.Prototype = p
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	clusterID := in.Target.ClusterID
	switch {
	case in.Target.Kind == types.EntityCluster:
		clusterID = in.Target.ID
	case in.Target.Kind == types.EntityHostGroup && in.Target.Owner != nil:
		owner, err := tx.GetEntity(*in.Target.Owner)
		if err != nil {
			return nil, err
		}
		clusterID = owner.ClusterID
		if owner.Kind == types.EntityCluster {
			clusterID = owner.ID
		}
	}

	if in.Hosts, err = tx.ListEntities(types.EntityHost); err != nil {
		return nil, err
	}
	if clusterID == 0 {
		return in, nil
	}

	if in.Cluster, err = tx.GetEntity(types.EntityRef{Kind: types.EntityCluster, ID: clusterID}); err != nil {
		return nil, err
	}
	if in.Services, err = inCluster(tx, types.EntityService, clusterID); err != nil {
		return nil, err
	}
	if in.Components, err = inCluster(tx, types.EntityComponent, clusterID); err != nil {
		return nil, err
	}

	in.Mapping = task.HostComponent
	if task.HostComponentOverride != nil {
		in.Mapping = task.HostComponentOverride
	}
	return in, nil
}

func inCluster(tx storage.Tx, kind types.EntityKind, clusterID int64) ([]*types.Entity, error) {
	all, err := tx.ListEntities(kind)
	if err != nil {
		return nil, err
	}
	var out []*types.Entity
	for _, e := range all {
		if e.ClusterID == clusterID {
			out = append(out, e)
		}
	}
	return out, nil
}
