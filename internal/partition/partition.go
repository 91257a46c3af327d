package partition

import (
	"context"
	"fmt"
	"sort"

	"github.com/rawblock/entropy-scorer/internal/metrics"
)

// MissingLabel stands in for a row that has no cell in the label column.
const MissingLabel metrics.Label = "?"

// Partition is an immutable assignment of entity ids to labels.
// It implements metrics.Labeling.
type Partition struct {
	labels map[metrics.EntityID]metrics.Label
	ids    []metrics.EntityID
}

// New builds a partition from an id → label map. The map is copied.
func New(assign map[metrics.EntityID]metrics.Label) *Partition {
	p := &Partition{
		labels: make(map[metrics.EntityID]metrics.Label, len(assign)),
		ids:    make([]metrics.EntityID, 0, len(assign)),
	}
	for id, l := range assign {
		p.labels[id] = l
		p.ids = append(p.ids, id)
	}
	sort.Slice(p.ids, func(i, j int) bool { return p.ids[i] < p.ids[j] })
	return p
}

// Build reads every row of src and takes the label from column.
// A repeated row key fails with DuplicateEntityError.
func Build(ctx context.Context, src Source, column string) (*Partition, error) {
	col := src.Schema().Index(column)
	if col < 0 {
		return nil, &ColumnNotFoundError{Column: column}
	}

	assign := make(map[metrics.EntityID]metrics.Label)
	err := src.Scan(ctx, func(row Row) error {
		id := metrics.EntityID(row.Key)
		if _, dup := assign[id]; dup {
			return &DuplicateEntityError{ID: row.Key}
		}
		label := MissingLabel
		if col < len(row.Cells) {
			label = metrics.Label(row.Cells[col])
		}
		assign[id] = label
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading column %q: %w", column, err)
	}
	return New(assign), nil
}

// IDs returns the entity ids in ascending order.
func (p *Partition) IDs() []metrics.EntityID {
	out := make([]metrics.EntityID, len(p.ids))
	copy(out, p.ids)
	return out
}

func (p *Partition) LabelOf(id metrics.EntityID) (metrics.Label, bool) {
	l, ok := p.labels[id]
	return l, ok
}

func (p *Partition) Len() int { return len(p.ids) }

// ColumnNotFoundError reports a label column missing from a source schema.
type ColumnNotFoundError struct {
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found", e.Column)
}

// DuplicateEntityError reports a row key seen twice in one source.
type DuplicateEntityError struct {
	ID string
}

func (e *DuplicateEntityError) Error() string {
	return fmt.Sprintf("duplicate entity id %q", e.ID)
}
