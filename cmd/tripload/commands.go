package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rpattn/tripload/internal/config"
	"github.com/rpattn/tripload/internal/db"
	"github.com/rpattn/tripload/internal/fetch"
	"github.com/rpattn/tripload/internal/ingestion"
	"github.com/rpattn/tripload/internal/logging"
	"github.com/rpattn/tripload/internal/repository"
	"github.com/rpattn/tripload/internal/transform"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type app struct {
	out       io.Writer
	errOut    io.Writer
	configDir string
	cfg       config.Config
	logger    *zap.Logger
	newLogger func(level string) (*zap.Logger, error)
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		errOut: errOut,
		newLogger: func(level string) (*zap.Logger, error) {
			return logging.New(level, logging.IsTerminal())
		},
	}
}

type loadOptions struct {
	locator string
	table   string
	schema  string
	noTx    bool
}

func addLoadFlags(fs *pflag.FlagSet, opts *loadOptions) {
	fs.SortFlags = false
	fs.StringVar(&opts.locator, "input_file", ingestion.DefaultLocator, "URL, s3:// locator or local path of the parquet file to load")
	fs.StringVar(&opts.table, "table", ingestion.DefaultTable, "destination table name")
	fs.StringVar(&opts.schema, "schema", ingestion.DefaultSchema, "destination schema name")
	fs.BoolVar(&opts.noTx, "no-tx", false, "insert rows and mark the file in separate statements")
}

func newRootCmd(a *app) *cobra.Command {
	var opts loadOptions

	root := &cobra.Command{
		Use:   "tripload",
		Short: "Load NYC taxi trip record files into Postgres",
		Long: `Download a TLC trip record parquet file, normalize its column names and bulk load it
into a Postgres table. Loaded files are recorded in <schema>.processed_files so a file is
loaded at most once.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(a.runLoad(cmd, opts))
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config-dir", ".", "directory holding the .env file")
	addLoadFlags(root.Flags(), &opts)

	load := &cobra.Command{
		Use:   "load",
		Short: "Load one parquet file unless it has been loaded before",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(a.runLoad(cmd, opts))
		},
	}
	addLoadFlags(load.Flags(), &opts)

	root.AddCommand(load, newStatusCmd(a), newInspectCmd(a))
	return root
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		schema string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List files recorded as loaded, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(a.runStatus(cmd, schema, limit))
		},
	}
	cmd.Flags().StringVar(&schema, "schema", ingestion.DefaultSchema, "schema holding the tracking table")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of files to list")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	var rows int
	cmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Print the schema, row count and first rows of a parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(a.runInspect(cmd, args[0], rows))
		},
	}
	cmd.Flags().IntVarP(&rows, "rows", "n", 5, "number of sample rows to print")
	return cmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configDir)
	if err != nil {
		fmt.Fprintf(a.errOut, "%+v\n", err)
		return err
	}
	a.cfg = cfg

	logger, err := a.newLogger(cfg.LogLevel)
	if err != nil {
		err = errors.Wrap(err, "failed to build logger")
		fmt.Fprintf(a.errOut, "%+v\n", err)
		return err
	}
	a.logger = logger

	if cfg.Source != "" {
		logger.Debug("loaded config", zap.String("file", cfg.Source))
	} else {
		logger.Debug("no config file found, using defaults and environment", zap.String("dir", a.configDir))
	}
	return nil
}

// report logs a failed command with its stack before cobra returns it to main.
func (a *app) report(err error) error {
	if a.logger == nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()
	if err != nil {
		a.logger.Error(fmt.Sprintf("%+v", err), zap.Error(err))
		return err
	}
	a.logger.Info("successful completion")
	return nil
}

func (a *app) connect(cmd *cobra.Command) (*db.Connection, error) {
	conn, err := db.NewConnection(cmd.Context(), a.cfg.DB)
	if err != nil {
		return nil, errors.WithStack(&repository.DatabaseError{Op: "connect", Err: err})
	}
	return conn, nil
}

func (a *app) runLoad(cmd *cobra.Command, opts loadOptions) error {
	conn, err := a.connect(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	var serviceOpts []ingestion.Option
	if opts.noTx {
		serviceOpts = append(serviceOpts, ingestion.WithoutTransaction())
	}
	service := ingestion.NewService(
		repository.NewStore(conn, a.cfg.DB, opts.schema),
		fetch.NewFetcher(a.logger),
		transform.NewTransformer(a.logger),
		a.logger,
		serviceOpts...,
	)

	summary, err := service.Run(cmd.Context(), ingestion.Request{
		Locator: opts.locator,
		Table:   opts.table,
		Schema:  opts.schema,
	})
	if err != nil {
		return err
	}

	status := "loaded"
	if summary.Skipped {
		status = "skipped"
	}
	fmt.Fprintf(a.out, "%s %s: %d rows in %s (run %s)\n",
		status, summary.FileName, summary.RowsLoaded, summary.Duration.Round(time.Millisecond), summary.RunID)
	return nil
}

func (a *app) runStatus(cmd *cobra.Command, schema string, limit int) error {
	conn, err := a.connect(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	store := repository.NewStore(conn, a.cfg.DB, schema)
	files, err := store.ProcessedFiles().List(cmd.Context(), limit, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to list processed files in %s", schema)
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tPROCESSED AT")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\n", f.FileName, f.ProcessedAt.Format(time.DateTime))
	}
	return w.Flush()
}

func (a *app) runInspect(cmd *cobra.Command, path string, rows int) error {
	info, err := transform.NewTransformer(a.logger).Inspect(cmd.Context(), path, rows)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "file: %s\nrows: %d\n\n", info.Path, info.NumRows)

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tLOADED AS\tTYPE\tNULLABLE")
	for _, f := range info.Fields {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", f.Name, f.Normalized, f.Type, f.Nullable)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(info.Sample) == 0 {
		return nil
	}
	fmt.Fprintln(a.out)
	w = tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	header := make([]string, len(info.Fields))
	for i, f := range info.Fields {
		header[i] = f.Normalized
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range info.Sample {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}
