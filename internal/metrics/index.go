package metrics

import (
	"fmt"
	"sort"
)

// Group is the entity set of one reference cluster.
type Group struct {
	Label    Label      `json:"label"`
	Entities []EntityID `json:"entities"`
}

// ClusterIndex maps every reference label to the entities it holds, and
// back. Groups are created on first occurrence, so an empty group can
// never exist; groups are pairwise disjoint and their union is the
// reference domain. The index is never mutated after construction.
type ClusterIndex struct {
	labels []Label
	groups map[Label][]EntityID
	owner  map[EntityID]Label
}

// BuildClusterIndex groups the reference partition by label.
func BuildClusterIndex(reference Labeling) *ClusterIndex {
	idx := &ClusterIndex{
		groups: make(map[Label][]EntityID),
		owner:  make(map[EntityID]Label),
	}
	if reference == nil {
		return idx
	}
	// IDs are ascending, so every group comes out sorted.
	for _, id := range reference.IDs() {
		l, _ := reference.LabelOf(id)
		if _, seen := idx.groups[l]; !seen {
			idx.labels = append(idx.labels, l)
		}
		idx.groups[l] = append(idx.groups[l], id)
		idx.owner[id] = l
	}
	sort.Slice(idx.labels, func(i, j int) bool { return idx.labels[i] < idx.labels[j] })
	return idx
}

// RestoreClusterIndex rebuilds an index from persisted groups, rejecting
// empty groups, repeated labels and entities owned by more than one group.
func RestoreClusterIndex(groups []Group) (*ClusterIndex, error) {
	idx := &ClusterIndex{
		groups: make(map[Label][]EntityID, len(groups)),
		owner:  make(map[EntityID]Label),
	}
	for _, g := range groups {
		if len(g.Entities) == 0 {
			return nil, fmt.Errorf("cluster %q has no entities", g.Label)
		}
		if _, dup := idx.groups[g.Label]; dup {
			return nil, fmt.Errorf("cluster %q appears twice", g.Label)
		}
		ids := make([]EntityID, len(g.Entities))
		copy(ids, g.Entities)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if prev, taken := idx.owner[id]; taken {
				return nil, fmt.Errorf("entity %q belongs to both %q and %q", id, prev, g.Label)
			}
			idx.owner[id] = g.Label
		}
		idx.groups[g.Label] = ids
		idx.labels = append(idx.labels, g.Label)
	}
	sort.Slice(idx.labels, func(i, j int) bool { return idx.labels[i] < idx.labels[j] })
	return idx, nil
}

// Labels returns the reference labels in ascending order.
func (x *ClusterIndex) Labels() []Label {
	out := make([]Label, len(x.labels))
	copy(out, x.labels)
	return out
}

// Entities returns a copy of the sorted entity set of one cluster.
func (x *ClusterIndex) Entities(l Label) []EntityID {
	ids := x.groups[l]
	if ids == nil {
		return nil
	}
	out := make([]EntityID, len(ids))
	copy(out, ids)
	return out
}

// Contains reports whether l is a cluster of this index.
func (x *ClusterIndex) Contains(l Label) bool {
	_, ok := x.groups[l]
	return ok
}

// LabelOf is the inverse lookup: the cluster owning id.
func (x *ClusterIndex) LabelOf(id EntityID) (Label, bool) {
	l, ok := x.owner[id]
	return l, ok
}

// Len is the number of clusters.
func (x *ClusterIndex) Len() int { return len(x.labels) }

// Size is the number of indexed entities.
func (x *ClusterIndex) Size() int { return len(x.owner) }

// Groups returns every cluster with its entities, ordered by label.
func (x *ClusterIndex) Groups() []Group {
	out := make([]Group, 0, len(x.labels))
	for _, l := range x.labels {
		out = append(out, Group{Label: l, Entities: x.Entities(l)})
	}
	return out
}
