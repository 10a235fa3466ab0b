package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arenadata/adcm/pkg/types"
	bolt "go.etcd.io/bbolt"
)

func (t *boltTx) entityBucket(kind types.EntityKind) (*bolt.Bucket, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	b := t.tx.Bucket(bucketEntities).Bucket([]byte(kind))
	if b == nil {
		return nil, fmt.Errorf("entity bucket %s missing", kind)
	}
	return b, nil
}

// PutEntity creates or replaces an entity. A zero id allocates the next id for the kind.
func (t *boltTx) PutEntity(e *types.Entity) error {
	b, err := t.entityBucket(e.Kind)
	if err != nil {
		return err
	}
	if e.ID == 0 {
		if e.ID, err = nextID(b); err != nil {
			return err
		}
	} else if err := bumpSequence(b, e.ID); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return putJSON(b, itob(e.ID), e)
}

func (t *boltTx) GetEntity(ref types.EntityRef) (*types.Entity, error) {
	b, err := t.entityBucket(ref.Kind)
	if err != nil {
		return nil, err
	}
	var e types.Entity
	found, err := getJSON(b, itob(ref.ID), &e)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFoundf("entity %s", ref)
	}
	return &e, nil
}

func (t *boltTx) ListEntities(kind types.EntityKind) ([]*types.Entity, error) {
	b, err := t.entityBucket(kind)
	if err != nil {
		return nil, err
	}
	var entities []*types.Entity
	err = b.ForEach(func(k, v []byte) error {
		var e types.Entity
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		entities = append(entities, &e)
		return nil
	})
	return entities, err
}

func (t *boltTx) DeleteEntity(ref types.EntityRef) error {
	b, err := t.entityBucket(ref.Kind)
	if err != nil {
		return err
	}
	return b.Delete(itob(ref.ID))
}

func (t *boltTx) GetHostComponents(clusterID int64) ([]types.HostComponent, error) {
	var hc []types.HostComponent
	if _, err := getJSON(t.tx.Bucket(bucketHostComponents), itob(clusterID), &hc); err != nil {
		return nil, err
	}
	return hc, nil
}

func (t *boltTx) SetHostComponents(clusterID int64, hc []types.HostComponent) error {
	b := t.tx.Bucket(bucketHostComponents)
	if len(hc) == 0 {
		return b.Delete(itob(clusterID))
	}
	return putJSON(b, itob(clusterID), hc)
}

// Prototype operations
func (t *boltTx) PutPrototype(p *types.Prototype) error {
	b := t.tx.Bucket(bucketPrototypes)
	var err error
	if p.ID == 0 {
		if p.ID, err = nextID(b); err != nil {
			return err
		}
	} else if err := bumpSequence(b, p.ID); err != nil {
		return err
	}
	return putJSON(b, itob(p.ID), p)
}

func (t *boltTx) GetPrototype(id int64) (*types.Prototype, error) {
	var p types.Prototype
	found, err := getJSON(t.tx.Bucket(bucketPrototypes), itob(id), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFoundf("prototype %d", id)
	}
	return &p, nil
}

// Action operations
func (t *boltTx) PutAction(a *types.Action) error {
	b := t.tx.Bucket(bucketActions)
	var err error
	if a.ID == 0 {
		if a.ID, err = nextID(b); err != nil {
			return err
		}
	} else if err := bumpSequence(b, a.ID); err != nil {
		return err
	}
	return putJSON(b, itob(a.ID), a)
}

func (t *boltTx) GetAction(id int64) (*types.Action, error) {
	var a types.Action
	found, err := getJSON(t.tx.Bucket(bucketActions), itob(id), &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFoundf("action %d", id)
	}
	return &a, nil
}

func (t *boltTx) ListActions(prototypeID int64) ([]*types.Action, error) {
	var actions []*types.Action
	err := t.tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
		var a types.Action
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		if prototypeID == 0 || a.PrototypeID == prototypeID {
			actions = append(actions, &a)
		}
		return nil
	})
	return actions, err
}
