package seed

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"gopkg.in/yaml.v3"
)

// ClusterMapping is the host-component mapping of one cluster
type ClusterMapping struct {
	ClusterID int64                 `json:"cluster_id"`
	Entries   []types.HostComponent `json:"entries"`
}

// File is a fixture document describing bundle metadata and the entity arena.
// Field names follow the JSON tags of the records in pkg/types.
type File struct {
	Prototypes     []types.Prototype `json:"prototypes"`
	Actions        []types.Action    `json:"actions"`
	Entities       []types.Entity    `json:"entities"`
	HostComponents []ClusterMapping  `json:"hostcomponents"`
}

// Summary counts the rows written by Apply
type Summary struct {
	Prototypes     int
	Actions        int
	Entities       int
	HostComponents int
}

// LoadFile reads and parses a YAML (or JSON) fixture file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a fixture document. YAML is decoded generically and
// re-encoded as JSON so the records' JSON tags apply.
func Parse(data []byte) (*File, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if raw == nil {
		return &File{}, nil
	}

	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert seed: %w", err)
	}

	var f File
	if err := json.Unmarshal(js, &f); err != nil {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references inside the document
func (f *File) Validate() error {
	protos := make(map[int64]bool)
	for _, p := range f.Prototypes {
		if !p.Type.Valid() {
			return types.Invalidf("prototypes", "prototype %q has unknown type %q", p.Name, p.Type)
		}
		if p.ID != 0 {
			protos[p.ID] = true
		}
	}
	for _, a := range f.Actions {
		if a.PrototypeID != 0 && !protos[a.PrototypeID] {
			return types.Invalidf("actions", "action %q references unknown prototype %d", a.Name, a.PrototypeID)
		}
		switch a.Type {
		case types.ActionTypeJob, types.ActionTypeTask:
		default:
			return types.Invalidf("actions", "action %q has unknown type %q", a.Name, a.Type)
		}
		if a.Type == types.ActionTypeTask && a.ScriptType != types.ScriptTypeTaskGenerator && len(a.SubActions) == 0 {
			return types.Invalidf("actions", "task action %q declares no sub actions", a.Name)
		}
	}
	for _, e := range f.Entities {
		if !e.Kind.Valid() {
			return types.Invalidf("entities", "entity %q has unknown kind %q", e.Name, e.Kind)
		}
	}
	return nil
}

// Apply writes the document to the store in one transaction
func (f *File) Apply(store storage.Store) (*Summary, error) {
	sum := &Summary{}
	err := store.Update(func(tx storage.Tx) error {
		for i := range f.Prototypes {
			if err := tx.PutPrototype(&f.Prototypes[i]); err != nil {
				return err
			}
			sum.Prototypes++
		}
		for i := range f.Actions {
			if err := tx.PutAction(&f.Actions[i]); err != nil {
				return err
			}
			sum.Actions++
		}
		for i := range f.Entities {
			if err := tx.PutEntity(&f.Entities[i]); err != nil {
				return err
			}
			sum.Entities++
		}
		for _, m := range f.HostComponents {
			if err := tx.SetHostComponents(m.ClusterID, m.Entries); err != nil {
				return err
			}
			sum.HostComponents += len(m.Entries)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}
