package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildClusterIndex_Partitions(t *testing.T) {
	ref := labels{"e": "Y", "a": "X", "c": "Y", "b": "X", "d": "Z"}

	idx := BuildClusterIndex(ref)

	assert.Equal(t, []Label{"X", "Y", "Z"}, idx.Labels())
	assert.Equal(t, []EntityID{"a", "b"}, idx.Entities("X"))
	assert.Equal(t, []EntityID{"c", "e"}, idx.Entities("Y"))
	assert.Equal(t, 5, idx.Size())

	seen := map[EntityID]Label{}
	for _, g := range idx.Groups() {
		require.NotEmpty(t, g.Entities, "no empty groups")
		for _, id := range g.Entities {
			prev, dup := seen[id]
			require.False(t, dup, "entity %s in %s and %s", id, prev, g.Label)
			seen[id] = g.Label
		}
	}
	assert.Len(t, seen, ref.Len(), "union covers the reference domain")

	l, ok := idx.LabelOf("d")
	assert.True(t, ok)
	assert.Equal(t, Label("Z"), l)
	_, ok = idx.LabelOf("nope")
	assert.False(t, ok)
}

func TestRestoreClusterIndex(t *testing.T) {
	idx, err := RestoreClusterIndex([]Group{
		{Label: "Y", Entities: []EntityID{"d", "c"}},
		{Label: "X", Entities: []EntityID{"a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Label{"X", "Y"}, idx.Labels())
	assert.Equal(t, []EntityID{"c", "d"}, idx.Entities("Y"))

	_, err = RestoreClusterIndex([]Group{{Label: "X"}})
	assert.Error(t, err, "empty group")

	_, err = RestoreClusterIndex([]Group{
		{Label: "X", Entities: []EntityID{"a"}},
		{Label: "Y", Entities: []EntityID{"a"}},
	})
	assert.Error(t, err, "overlapping groups")

	_, err = RestoreClusterIndex([]Group{
		{Label: "X", Entities: []EntityID{"a"}},
		{Label: "X", Entities: []EntityID{"b"}},
	})
	assert.Error(t, err, "repeated label")
}
