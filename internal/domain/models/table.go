package models

import "fmt"

// Table is a dense, column-major numeric table. Data[j] holds the values of Columns[j];
// every column has the same length.
type Table struct {
	Columns []string
	Data    [][]float64
}

// NewTable validates shape and returns a table.
func NewTable(columns []string, data [][]float64) (*Table, error) {
	if len(columns) != len(data) {
		return nil, fmt.Errorf("table: %d columns but %d data vectors", len(columns), len(data))
	}
	seen := make(map[string]struct{}, len(columns))
	for j, name := range columns {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("table: duplicate column %q", name)
		}
		seen[name] = struct{}{}
		if j > 0 && len(data[j]) != len(data[0]) {
			return nil, fmt.Errorf("table: column %q has %d rows, want %d", name, len(data[j]), len(data[0]))
		}
	}
	return &Table{Columns: columns, Data: data}, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil || len(t.Data) == 0 {
		return 0
	}
	return len(t.Data[0])
}

// Width returns the number of columns.
func (t *Table) Width() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Index returns the position of a column or -1.
func (t *Table) Index(name string) int {
	if t == nil {
		return -1
	}
	for j, c := range t.Columns {
		if c == name {
			return j
		}
	}
	return -1
}

// Column returns the values of a column. The slice is shared with the table.
func (t *Table) Column(name string) ([]float64, bool) {
	j := t.Index(name)
	if j < 0 {
		return nil, false
	}
	return t.Data[j], true
}

// Row copies row i into a new slice ordered like Columns.
func (t *Table) Row(i int) []float64 {
	row := make([]float64, len(t.Columns))
	for j := range t.Columns {
		row[j] = t.Data[j][i]
	}
	return row
}

// Slice returns rows [from, to) as a new table sharing no memory with t.
func (t *Table) Slice(from, to int) *Table {
	n := t.Len()
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if from > to {
		from = to
	}
	out := &Table{Columns: append([]string(nil), t.Columns...), Data: make([][]float64, len(t.Columns))}
	for j := range t.Columns {
		out.Data[j] = append([]float64(nil), t.Data[j][from:to]...)
	}
	return out
}

// Tail returns the last n rows.
func (t *Table) Tail(n int) *Table {
	return t.Slice(t.Len()-n, t.Len())
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	return t.Slice(0, t.Len())
}

// With returns a copy of t with an extra (or replaced) column.
func (t *Table) With(name string, values []float64) (*Table, error) {
	if t.Width() > 0 && len(values) != t.Len() {
		return nil, fmt.Errorf("table: column %q has %d rows, want %d", name, len(values), t.Len())
	}
	out := t.Clone()
	if j := out.Index(name); j >= 0 {
		out.Data[j] = append([]float64(nil), values...)
		return out, nil
	}
	out.Columns = append(out.Columns, name)
	out.Data = append(out.Data, append([]float64(nil), values...))
	return out, nil
}
