// Package ingestion loads trip record files into Postgres exactly once per file.
package ingestion

import (
	"context"
	"time"

	"github.com/rpattn/tripload/internal/domain"
	"github.com/rpattn/tripload/internal/repository"
	"github.com/rpattn/tripload/internal/transform"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Defaults used when a Request leaves a field empty.
const (
	DefaultLocator = "https://d37ci6vzurychx.cloudfront.net/trip-data/yellow_tripdata_2023-09.parquet"
	DefaultTable   = "raw_yellow_taxi"
	DefaultSchema  = "data_pipelines"
)

// errAlreadyRecorded aborts the load transaction when another run marked the file first.
var errAlreadyRecorded = errors.New("file recorded by a concurrent run")

// Fetcher produces a local copy of a source file.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (string, error)
}

// Transformer reads a local file into a normalized arrow table.
type Transformer interface {
	LoadAndNormalize(ctx context.Context, path string) (arrow.Table, error)
}

// Service runs the fetch, transform and load steps of a single file.
type Service struct {
	store         repository.Store
	fetcher       Fetcher
	transformer   Transformer
	logger        *zap.Logger
	transactional bool
	batchRows     int64
}

// Option configures a Service.
type Option func(*Service)

// WithoutTransaction inserts rows and marks the file as two separate statements.
// A crash between them leaves rows loaded but the file unmarked, so a rerun loads it again.
func WithoutTransaction() Option {
	return func(s *Service) { s.transactional = false }
}

// WithBatchRows sets how many rows are materialized per arrow record during COPY.
func WithBatchRows(n int64) Option {
	return func(s *Service) { s.batchRows = n }
}

// NewService creates a new ingestion service.
func NewService(store repository.Store, fetcher Fetcher, transformer Transformer, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:         store,
		fetcher:       fetcher,
		transformer:   transformer,
		logger:        logger,
		transactional: true,
		batchRows:     transform.DefaultBatchRows,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one load.
type Request struct {
	Locator string
	Table   string
	// Schema holds both the destination table and the tracking table.
	Schema string
}

func (r Request) withDefaults() Request {
	if r.Locator == "" {
		r.Locator = DefaultLocator
	}
	if r.Table == "" {
		r.Table = DefaultTable
	}
	if r.Schema == "" {
		r.Schema = DefaultSchema
	}
	return r
}

// Summary reports the outcome of a load.
type Summary struct {
	RunID      uuid.UUID
	FileName   string
	Path       string
	RowsLoaded int64
	Skipped    bool
	Duration   time.Duration
}

// Run loads the file named by req.Locator unless it has been loaded before.
func (s *Service) Run(ctx context.Context, req Request) (Summary, error) {
	req = req.withDefaults()
	summary := Summary{RunID: uuid.New()}
	start := time.Now()

	logger := s.logger.With(
		zap.String("run_id", summary.RunID.String()),
		zap.String("schema", req.Schema),
		zap.String("table", req.Table),
	)

	store := s.store.WithSchema(req.Schema)
	tracking := store.ProcessedFiles()
	if err := tracking.EnsureTable(ctx); err != nil {
		return summary, errors.Wrap(err, "failed to ensure tracking table")
	}

	path, err := s.fetcher.Fetch(ctx, req.Locator)
	if err != nil {
		return summary, errors.Wrapf(err, "failed to fetch %s", req.Locator)
	}
	summary.Path = path
	summary.FileName = domain.FileIdentifier(path)
	logger = logger.With(zap.String("file", summary.FileName))

	processed, err := tracking.IsProcessed(ctx, summary.FileName)
	if err != nil {
		return summary, errors.Wrap(err, "failed to check tracking table")
	}
	if processed {
		logger.Info("file has already been processed, skipping")
		summary.Skipped = true
		summary.Duration = time.Since(start)
		return summary, nil
	}

	tbl, err := s.transformer.LoadAndNormalize(ctx, path)
	if err != nil {
		return summary, errors.Wrapf(err, "failed to read %s", path)
	}
	defer tbl.Release()

	plan := transform.PlanColumns(tbl.Schema())
	if len(plan.Ignored) > 0 {
		logger.Warn("columns without a destination are skipped", zap.Strings("columns", plan.Ignored))
	}
	if len(plan.Missing) > 0 {
		logger.Warn("destination columns absent from file are left null", zap.Strings("columns", plan.Missing))
	}
	if len(plan.Insert) == 0 {
		return summary, errors.WithStack(&transform.FormatError{
			Path: path,
			Err:  errors.New("file has no trip record columns"),
		})
	}

	if err := store.Trips().EnsureTable(ctx, req.Table); err != nil {
		return summary, errors.Wrapf(err, "failed to ensure table %s", req.Table)
	}

	logger.Info("loading data into postgres", zap.Int64("rows", tbl.NumRows()))
	if s.transactional {
		err = store.InTx(ctx, func(tx repository.Store) error {
			rows, err := s.insert(ctx, tx, req.Table, tbl, plan)
			if err != nil {
				return err
			}
			marked, err := tx.ProcessedFiles().MarkProcessed(ctx, summary.FileName)
			if err != nil {
				return errors.Wrap(err, "failed to mark file processed")
			}
			if !marked {
				return errAlreadyRecorded
			}
			summary.RowsLoaded = rows
			return nil
		})
		if errors.Is(err, errAlreadyRecorded) {
			logger.Warn("file was recorded by another run while loading, rolled back")
			summary.RowsLoaded = 0
			summary.Skipped = true
			summary.Duration = time.Since(start)
			return summary, nil
		}
		if err != nil {
			return summary, err
		}
	} else {
		rows, err := s.insert(ctx, store, req.Table, tbl, plan)
		if err != nil {
			return summary, err
		}
		summary.RowsLoaded = rows
		marked, err := store.ProcessedFiles().MarkProcessed(ctx, summary.FileName)
		if err != nil {
			return summary, errors.Wrap(err, "failed to mark file processed")
		}
		if !marked {
			logger.Warn("file was already recorded by another run", zap.Int64("rows", rows))
		}
	}

	summary.Duration = time.Since(start)
	logger.Info("data loaded successfully",
		zap.Int64("rows", summary.RowsLoaded),
		zap.Duration("elapsed", summary.Duration),
	)
	return summary, nil
}

func (s *Service) insert(ctx context.Context, store repository.Store, table string, tbl arrow.Table, plan transform.ColumnPlan) (int64, error) {
	src, err := transform.NewRowSource(tbl, plan.Insert, s.batchRows)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer src.Release()

	rows, err := store.Trips().BulkInsert(ctx, table, plan.Names(), src)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to load rows into %s", table)
	}
	return rows, nil
}
