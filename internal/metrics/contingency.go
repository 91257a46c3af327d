package metrics

import (
	"fmt"
	"sort"
)

// EntityID identifies one row/entity within a single evaluation run.
type EntityID string

// Label is a cluster or class assignment. Only equality is meaningful.
type Label string

// Labeling is the read side of a partition: every entity it knows about
// resolves to exactly one label.
type Labeling interface {
	// IDs returns the entity ids in ascending order.
	IDs() []EntityID
	LabelOf(id EntityID) (Label, bool)
	Len() int
}

// Cell is one non-zero entry of a contingency table.
type Cell struct {
	Reference Label `json:"reference"`
	Candidate Label `json:"candidate"`
	Count     int   `json:"count"`
}

type cellKey struct {
	ref  Label
	cand Label
}

// ContingencyTable cross-tabulates a reference and a candidate partition.
// Zero cells are never stored; every stored count is positive.
//
// Invariant: sum(cells) == Total() == sum(reference marginals) == sum(candidate marginals).
type ContingencyTable struct {
	cells      map[cellKey]int
	refTotals  map[Label]int
	candTotals map[Label]int
	total      int
}

func newContingencyTable() *ContingencyTable {
	return &ContingencyTable{
		cells:      make(map[cellKey]int),
		refTotals:  make(map[Label]int),
		candTotals: make(map[Label]int),
	}
}

// BuildContingency walks the candidate partition and counts every entity
// whose reference label can be resolved. Entities known to only one side
// are skipped and do not count toward N.
//
// An empty partition on either side yields an empty table (Empty() == true)
// rather than an error; callers decide how to report it.
func BuildContingency(reference, candidate Labeling) *ContingencyTable {
	t := newContingencyTable()
	if reference == nil || candidate == nil || reference.Len() == 0 || candidate.Len() == 0 {
		return t
	}

	for _, id := range candidate.IDs() {
		candLabel, _ := candidate.LabelOf(id)
		refLabel, ok := reference.LabelOf(id)
		if !ok {
			continue
		}
		t.add(refLabel, candLabel, 1)
	}
	return t
}

// NewContingencyTable rebuilds a table from its cells, recomputing the
// marginals. It rejects non-positive counts and duplicate cells.
func NewContingencyTable(cells []Cell) (*ContingencyTable, error) {
	t := newContingencyTable()
	for _, c := range cells {
		if c.Count <= 0 {
			return nil, fmt.Errorf("cell (%q, %q) has non-positive count %d", c.Reference, c.Candidate, c.Count)
		}
		if _, dup := t.cells[cellKey{c.Reference, c.Candidate}]; dup {
			return nil, fmt.Errorf("duplicate cell (%q, %q)", c.Reference, c.Candidate)
		}
		t.add(c.Reference, c.Candidate, c.Count)
	}
	return t, nil
}

func (t *ContingencyTable) add(ref, cand Label, n int) {
	t.cells[cellKey{ref, cand}] += n
	t.refTotals[ref] += n
	t.candTotals[cand] += n
	t.total += n
}

// Empty reports whether no entity was counted.
func (t *ContingencyTable) Empty() bool { return t == nil || t.total == 0 }

// Total returns the grand total N.
func (t *ContingencyTable) Total() int {
	if t == nil {
		return 0
	}
	return t.total
}

// Count returns the cell count for (ref, cand), zero when absent.
func (t *ContingencyTable) Count(ref, cand Label) int {
	return t.cells[cellKey{ref, cand}]
}

// ReferenceTotal returns the marginal count of a reference label.
func (t *ContingencyTable) ReferenceTotal(ref Label) int { return t.refTotals[ref] }

// CandidateTotal returns the marginal count of a candidate label.
func (t *ContingencyTable) CandidateTotal(cand Label) int { return t.candTotals[cand] }

// ReferenceLabels returns the observed reference labels in ascending order.
func (t *ContingencyTable) ReferenceLabels() []Label { return sortedLabels(t.refTotals) }

// CandidateLabels returns the observed candidate labels in ascending order.
func (t *ContingencyTable) CandidateLabels() []Label { return sortedLabels(t.candTotals) }

// Cells returns every non-zero cell ordered by (reference, candidate).
func (t *ContingencyTable) Cells() []Cell {
	out := make([]Cell, 0, len(t.cells))
	for k, n := range t.cells {
		out = append(out, Cell{Reference: k.ref, Candidate: k.cand, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reference != out[j].Reference {
			return out[i].Reference < out[j].Reference
		}
		return out[i].Candidate < out[j].Candidate
	})
	return out
}

// Row returns the non-zero counts of one reference label, ordered by
// candidate label.
func (t *ContingencyTable) Row(ref Label) []int {
	var counts []int
	for _, cand := range t.CandidateLabels() {
		if n := t.cells[cellKey{ref, cand}]; n > 0 {
			counts = append(counts, n)
		}
	}
	return counts
}

func sortedLabels(m map[Label]int) []Label {
	out := make([]Label, 0, len(m))
	for l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
