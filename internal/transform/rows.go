package transform

import (
	"fmt"

	"github.com/rpattn/tripload/internal/domain"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
)

// DefaultBatchRows is the record size the row source slices a table into.
const DefaultBatchRows = 64 * 1024

// ColumnPlan splits table columns into those loaded into the destination table,
// table columns with no destination, and destination columns absent from the table.
type ColumnPlan struct {
	Insert  []domain.DestinationColumn
	Ignored []string
	Missing []string
}

// Names returns the destination column names in insert order.
func (p ColumnPlan) Names() []string {
	names := make([]string, len(p.Insert))
	for i, col := range p.Insert {
		names[i] = col.Name
	}
	return names
}

// PlanColumns matches a normalized table schema against the destination layout.
func PlanColumns(schema *arrow.Schema) ColumnPlan {
	present := make(map[string]bool, len(schema.Fields()))
	var plan ColumnPlan
	for _, field := range schema.Fields() {
		present[field.Name] = true
		if _, ok := domain.LookupDestinationColumn(field.Name); !ok {
			plan.Ignored = append(plan.Ignored, field.Name)
		}
	}
	for _, col := range domain.TripDestinationColumns() {
		if present[col.Name] {
			plan.Insert = append(plan.Insert, col)
		} else {
			plan.Missing = append(plan.Missing, col.Name)
		}
	}
	return plan
}

// RowSource walks an arrow table row by row, yielding values coerced to the
// destination column kinds. It satisfies pgx.CopyFromSource.
type RowSource struct {
	reader  *array.TableReader
	columns []domain.DestinationColumn
	indexes []int

	rec    arrow.Record
	row    int
	values []any
	rows   int64
	err    error
}

// NewRowSource prepares a row source over columns of tbl. Every column must be present in tbl.
func NewRowSource(tbl arrow.Table, columns []domain.DestinationColumn, batchRows int64) (*RowSource, error) {
	if batchRows <= 0 {
		batchRows = DefaultBatchRows
	}

	positions := make(map[string]int, len(tbl.Schema().Fields()))
	for i, field := range tbl.Schema().Fields() {
		positions[field.Name] = i
	}

	indexes := make([]int, len(columns))
	for i, col := range columns {
		idx, ok := positions[col.Name]
		if !ok {
			return nil, fmt.Errorf("column %s not present in table", col.Name)
		}
		indexes[i] = idx
	}

	return &RowSource{
		reader:  array.NewTableReader(tbl, batchRows),
		columns: columns,
		indexes: indexes,
		row:     -1,
	}, nil
}

// Next advances to the next row.
func (s *RowSource) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		if s.rec != nil && s.row+1 < int(s.rec.NumRows()) {
			s.row++
			return s.load()
		}
		if !s.reader.Next() {
			s.rec = nil
			return false
		}
		s.rec = s.reader.Record()
		s.row = -1
	}
}

func (s *RowSource) load() bool {
	values := make([]any, len(s.columns))
	for i, col := range s.columns {
		raw, err := CellValue(s.rec.Column(s.indexes[i]), s.row)
		if err == nil {
			values[i], err = Coerce(raw, col.Kind)
		}
		if err != nil {
			s.err = fmt.Errorf("row %d column %s: %w", s.rows+1, col.Name, err)
			return false
		}
	}
	s.values = values
	s.rows++
	return true
}

// Values returns the current row.
func (s *RowSource) Values() ([]any, error) {
	return s.values, nil
}

// Err reports the first conversion error.
func (s *RowSource) Err() error {
	return s.err
}

// Rows is the number of rows produced so far.
func (s *RowSource) Rows() int64 {
	return s.rows
}

// Release frees the underlying table reader.
func (s *RowSource) Release() {
	s.reader.Release()
}
