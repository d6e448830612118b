package transform

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
)

// FieldInfo describes one column of a parquet file.
type FieldInfo struct {
	Name       string
	Normalized string
	Type       string
	Nullable   bool
}

// FileInfo summarizes a parquet file for the inspect command.
type FileInfo struct {
	Path    string
	NumRows int64
	Fields  []FieldInfo
	Sample  [][]string
}

// Inspect reads path and reports its schema, row count and up to sampleRows rows.
func (t *Transformer) Inspect(ctx context.Context, path string, sampleRows int) (FileInfo, error) {
	tbl, err := ReadTable(ctx, path, t.mem)
	if err != nil {
		return FileInfo{}, err
	}
	defer tbl.Release()

	info := FileInfo{Path: path, NumRows: tbl.NumRows()}
	for _, field := range tbl.Schema().Fields() {
		normalized, ok := t.renames[field.Name]
		if !ok {
			normalized = field.Name
		}
		info.Fields = append(info.Fields, FieldInfo{
			Name:       field.Name,
			Normalized: normalized,
			Type:       field.Type.String(),
			Nullable:   field.Nullable,
		})
	}

	if sampleRows <= 0 {
		return info, nil
	}

	reader := array.NewTableReader(tbl, int64(sampleRows))
	defer reader.Release()
	// Records end at chunk boundaries, so a small first row group yields a short record.
	for len(info.Sample) < sampleRows && reader.Next() {
		rec := reader.Record()
		for row := 0; row < int(rec.NumRows()) && len(info.Sample) < sampleRows; row++ {
			values := make([]string, rec.NumCols())
			for col := range values {
				values[col] = cellString(rec.Column(col), row)
			}
			info.Sample = append(info.Sample, values)
		}
	}

	return info, nil
}

func cellString(arr arrow.Array, row int) string {
	if arr.IsNull(row) {
		return "NULL"
	}
	v, err := CellValue(arr, row)
	if err != nil {
		return "?"
	}
	return fmt.Sprint(v)
}
