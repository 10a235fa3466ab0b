package seed

import (
	"path/filepath"
	"testing"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndApply(t *testing.T) {
	f, err := LoadFile("testdata/cluster.yaml")
	require.NoError(t, err)

	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "adcm.db"), storage.Options{})
	require.NoError(t, err)
	defer store.Close()

	sum, err := f.Apply(store)
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Prototypes)
	assert.Equal(t, 11, sum.Actions)
	assert.Equal(t, 13, sum.Entities)
	assert.Equal(t, 3, sum.HostComponents)

	err = store.View(func(tx storage.Tx) error {
		restart, err := tx.GetAction(1)
		require.NoError(t, err)
		assert.Equal(t, types.ActionTypeTask, restart.Type)
		require.Len(t, restart.SubActions, 2)
		assert.Equal(t, []string{"needs_repair"}, restart.SubActions[1].OnFailEffects.MultiStateSet)
		assert.Equal(t, "running", restart.OnSuccess.State)

		configure, err := tx.GetAction(8)
		require.NoError(t, err)
		assert.Contains(t, string(configure.ConfigSchema), `"heap_mb"`)
		assert.Equal(t, 60, configure.Timeout)

		group, err := tx.GetEntity(types.EntityRef{Kind: types.EntityHostGroup, ID: 1})
		require.NoError(t, err)
		require.NotNil(t, group.Owner)
		assert.Equal(t, types.EntityCluster, group.Owner.Kind)
		assert.Equal(t, []int64{1, 2}, group.HostIDs)

		hc, err := tx.GetHostComponents(1)
		require.NoError(t, err)
		assert.Len(t, hc, 3)
		return nil
	})
	require.NoError(t, err)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not yaml", doc: "prototypes: [\n"},
		{name: "bad entity kind", doc: "entities:\n  - {kind: widget, name: w}\n"},
		{name: "bad prototype type", doc: "prototypes:\n  - {id: 1, type: gizmo}\n"},
		{name: "unknown prototype", doc: "actions:\n  - {name: a, prototype_id: 9, type: job}\n"},
		{name: "bad action type", doc: "prototypes:\n  - {id: 1, type: cluster}\nactions:\n  - {name: a, prototype_id: 1, type: pipeline}\n"},
		{name: "empty task", doc: "prototypes:\n  - {id: 1, type: cluster}\nactions:\n  - {name: a, prototype_id: 1, type: task, script_type: ansible}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Actions)
}
