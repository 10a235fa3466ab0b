package storage

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/arenadata/adcm/pkg/types"
)

// entity_concerns keys are "<kind:id>/" followed by the big-endian concern id,
// so the concerns of one entity form a contiguous cursor range.
func entityConcernPrefix(ref types.EntityRef) []byte {
	return []byte(ref.String() + "/")
}

func entityConcernKey(ref types.EntityRef, concernID int64) []byte {
	return append(entityConcernPrefix(ref), itob(concernID)...)
}

func (t *boltTx) CreateConcern(c *types.Concern) error {
	b := t.tx.Bucket(bucketConcerns)
	id, err := nextID(b)
	if err != nil {
		return err
	}
	c.ID = id
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return putJSON(b, itob(c.ID), c)
}

func (t *boltTx) GetConcern(id int64) (*types.Concern, error) {
	var c types.Concern
	found, err := getJSON(t.tx.Bucket(bucketConcerns), itob(id), &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFoundf("concern %d", id)
	}
	return &c, nil
}

// PutConcern replaces an existing concern row
func (t *boltTx) PutConcern(c *types.Concern) error {
	if _, err := t.GetConcern(c.ID); err != nil {
		return err
	}
	return putJSON(t.tx.Bucket(bucketConcerns), itob(c.ID), c)
}

// ListConcerns returns concerns of one kind, or all of them for an empty kind
func (t *boltTx) ListConcerns(kind types.ConcernKind) ([]*types.Concern, error) {
	var concerns []*types.Concern
	err := t.tx.Bucket(bucketConcerns).ForEach(func(k, v []byte) error {
		var c types.Concern
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		if kind == "" || c.Kind == kind {
			concerns = append(concerns, &c)
		}
		return nil
	})
	return concerns, err
}

// DeleteConcern removes the concern row and every entity link pointing at it
func (t *boltTx) DeleteConcern(id int64) error {
	links := t.tx.Bucket(bucketEntityConcerns)
	suffix := itob(id)

	var stale [][]byte
	c := links.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if bytes.HasSuffix(k, suffix) && len(k) > len(suffix) && k[len(k)-len(suffix)-1] == '/' {
			stale = append(stale, append([]byte(nil), k...))
		}
	}
	for _, k := range stale {
		if err := links.Delete(k); err != nil {
			return err
		}
	}
	return t.tx.Bucket(bucketConcerns).Delete(itob(id))
}

// LinkConcern attaches a concern to an entity. Linking twice is a no-op.
func (t *boltTx) LinkConcern(ref types.EntityRef, concernID int64) error {
	return t.tx.Bucket(bucketEntityConcerns).Put(entityConcernKey(ref, concernID), []byte{})
}

func (t *boltTx) UnlinkConcern(ref types.EntityRef, concernID int64) error {
	return t.tx.Bucket(bucketEntityConcerns).Delete(entityConcernKey(ref, concernID))
}

// EntityConcerns returns the ids of every concern attached to an entity
func (t *boltTx) EntityConcerns(ref types.EntityRef) ([]int64, error) {
	prefix := entityConcernPrefix(ref)
	c := t.tx.Bucket(bucketEntityConcerns).Cursor()

	var ids []int64
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) != len(prefix)+8 {
			continue
		}
		ids = append(ids, btoi(k[len(prefix):]))
	}
	return ids, nil
}
