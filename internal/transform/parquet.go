// Package transform reads trip record files into memory and normalizes their columns.
package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/tripload/internal/domain"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"go.uber.org/zap"
)

// Transformer loads parquet files as arrow tables with normalized column names.
type Transformer struct {
	mem     memory.Allocator
	renames map[string]string
	logger  *zap.Logger
}

// NewTransformer returns a Transformer using the trip record rename mapping.
func NewTransformer(logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{
		mem:     memory.NewGoAllocator(),
		renames: domain.TripRenameMap(),
		logger:  logger,
	}
}

// WithAllocator swaps the arrow allocator, mainly for leak checks in tests.
func (t *Transformer) WithAllocator(mem memory.Allocator) *Transformer {
	t.mem = mem
	return t
}

// LoadAndNormalize reads the whole file at path and renames its columns.
// The caller owns the returned table and must Release it.
func (t *Transformer) LoadAndNormalize(ctx context.Context, path string) (arrow.Table, error) {
	t.logger.Info("processing file", zap.String("file", path))
	start := time.Now()

	tbl, err := ReadTable(ctx, path, t.mem)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	normalized := RenameColumns(tbl, t.renames)
	t.logger.Info("processing complete",
		zap.String("file", path),
		zap.Int64("rows", normalized.NumRows()),
		zap.Int64("columns", normalized.NumCols()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return normalized, nil
}

// ReadTable reads every row group of a parquet file into one arrow table.
func ReadTable(ctx context.Context, path string, mem memory.Allocator) (arrow.Table, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}

	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, &FormatError{Path: path, Err: fmt.Errorf("failed to read table: %w", err)}
	}
	return tbl, nil
}

// RenameColumns returns a table whose fields are renamed through mapping.
// Fields missing from mapping keep their names. Column data is shared, not copied.
func RenameColumns(tbl arrow.Table, mapping map[string]string) arrow.Table {
	schema := tbl.Schema()
	fields := make([]arrow.Field, len(schema.Fields()))
	cols := make([]arrow.Column, len(schema.Fields()))

	for i, field := range schema.Fields() {
		if renamed, ok := mapping[field.Name]; ok {
			field.Name = renamed
		}
		fields[i] = field
		cols[i] = *arrow.NewColumn(field, tbl.Column(i).Data())
	}

	md := schema.Metadata()
	out := array.NewTable(arrow.NewSchema(fields, &md), cols, tbl.NumRows())
	for i := range cols {
		cols[i].Release()
	}
	return out
}
