package partition

import "context"

// Schema lists the label columns a source offers. The row key is not a column.
type Schema struct {
	Columns []string `json:"columns"`
}

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Contains reports whether name is a column of s.
func (s Schema) Contains(name string) bool { return s.Index(name) >= 0 }

// Row is one entity: its key and its cells in schema order.
type Row struct {
	Key   string   `json:"key"`
	Cells []string `json:"cells"`
}

// Source yields the rows of one input table. The schema is available
// without reading any data.
type Source interface {
	Schema() Schema
	Scan(ctx context.Context, fn func(Row) error) error
}

// Table is an in-memory Source.
type Table struct {
	Header Schema `json:"schema"`
	Data   []Row  `json:"rows"`
}

// NewTable builds an in-memory table.
func NewTable(columns []string, rows ...Row) *Table {
	return &Table{Header: Schema{Columns: columns}, Data: rows}
}

func (t *Table) Schema() Schema { return t.Header }

func (t *Table) Scan(ctx context.Context, fn func(Row) error) error {
	for _, r := range t.Data {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
