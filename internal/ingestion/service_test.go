package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rpattn/tripload/internal/domain"
	"github.com/rpattn/tripload/internal/fetch"
	"github.com/rpattn/tripload/internal/repository"
	"github.com/rpattn/tripload/internal/testutil"
	"github.com/rpattn/tripload/internal/transform"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const fixtureName = "yellow_tripdata_2023-09.parquet"

func writeFixture(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), fixtureName)
	if err := testutil.WriteTripParquet(path, testutil.SampleTrips(rows)); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func newTestService(db *memDB, path string, opts ...Option) (*Service, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	service := NewService(
		&stubStore{db: db},
		&stubFetcher{path: path},
		transform.NewTransformer(nil),
		zap.New(core),
		opts...,
	)
	return service, logs
}

func TestServiceRunLoadsUntrackedFile(t *testing.T) {
	db := newMemDB()
	service, logs := newTestService(db, writeFixture(t, 8))

	summary, err := service.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if summary.Skipped {
		t.Fatalf("expected file to be loaded, got skipped")
	}
	if summary.FileName != fixtureName {
		t.Fatalf("unexpected file name %q", summary.FileName)
	}
	if summary.RowsLoaded != 8 || db.rows[DefaultTable] != 8 {
		t.Fatalf("expected 8 rows loaded, summary=%d table=%d", summary.RowsLoaded, db.rows[DefaultTable])
	}
	if !db.processed[fixtureName] || len(db.processed) != 1 {
		t.Fatalf("expected exactly one tracking row, got %v", db.processed)
	}
	if !db.tables[DefaultTable] {
		t.Fatalf("expected destination table to be created")
	}
	if logs.FilterMessage("data loaded successfully").Len() != 1 {
		t.Fatalf("expected success log entry")
	}
	if entry := logs.All()[0]; entry.ContextMap()["run_id"] != summary.RunID.String() {
		t.Fatalf("expected run_id on log entries, got %v", entry.ContextMap())
	}
}

func TestServiceRunSkipsTrackedFile(t *testing.T) {
	db := newMemDB()
	db.processed[fixtureName] = true
	fetcher := &stubFetcher{path: writeFixture(t, 5)}
	core, logs := observer.New(zap.InfoLevel)
	service := NewService(&stubStore{db: db}, fetcher, transform.NewTransformer(nil), zap.New(core))

	summary, err := service.Run(context.Background(), Request{Table: "trips"})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if !summary.Skipped || summary.RowsLoaded != 0 {
		t.Fatalf("expected skip, got %+v", summary)
	}
	if db.tables["trips"] || db.rows["trips"] != 0 {
		t.Fatalf("tracked file must not touch the destination table")
	}
	if len(db.processed) != 1 {
		t.Fatalf("expected no new tracking row, got %v", db.processed)
	}

	skipped := false
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, "skipping") {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("expected a skipping log entry")
	}
}

func TestServiceRunTwiceLoadsOnce(t *testing.T) {
	db := newMemDB()
	service, _ := newTestService(db, writeFixture(t, 6))

	first, err := service.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := service.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Skipped || !second.Skipped {
		t.Fatalf("expected load then skip, got %v then %v", first.Skipped, second.Skipped)
	}
	if db.rows[DefaultTable] != 6 {
		t.Fatalf("expected 6 rows after two runs, got %d", db.rows[DefaultTable])
	}
	if first.RunID == second.RunID {
		t.Fatalf("expected distinct run ids")
	}
}

func TestServiceRunNotFoundLeavesNoState(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	db := newMemDB()
	service := NewService(
		&stubStore{db: db},
		fetch.NewFetcher(zap.NewNop(), fetch.WithDir(dir), fetch.WithHTTPClient(srv.Client())),
		transform.NewTransformer(nil),
		zap.NewNop(),
	)

	_, err := service.Run(context.Background(), Request{Locator: srv.URL + "/trip-data/" + fixtureName})
	if err == nil {
		t.Fatalf("expected error for missing remote file")
	}

	var transferErr *fetch.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %T: %v", err, err)
	}
	if transferErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", transferErr.StatusCode)
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("read dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files written, got %d", len(entries))
	}
	if db.trackingEnsured != 1 {
		t.Fatalf("expected tracking table bootstrap before fetch")
	}
	if len(db.processed) != 0 || len(db.tables) != 0 || len(db.rows) != 0 {
		t.Fatalf("expected no database mutation, got %+v", db)
	}
}

func TestServiceRunRollsBackWhenConcurrentRunMarksFile(t *testing.T) {
	db := newMemDB()
	db.onInsert = func() { db.processed[fixtureName] = true }
	service, logs := newTestService(db, writeFixture(t, 4))

	summary, err := service.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if !summary.Skipped || summary.RowsLoaded != 0 {
		t.Fatalf("expected rolled back skip, got %+v", summary)
	}
	if db.rows[DefaultTable] != 0 {
		t.Fatalf("expected inserted rows to roll back, got %d", db.rows[DefaultTable])
	}
	if logs.FilterMessage("data loaded successfully").Len() != 0 {
		t.Fatalf("rolled back load must not report success")
	}
}

func TestServiceRunWithoutTransactionKeepsRows(t *testing.T) {
	db := newMemDB()
	db.onInsert = func() { db.processed[fixtureName] = true }
	service, _ := newTestService(db, writeFixture(t, 4), WithoutTransaction())

	summary, err := service.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if summary.Skipped || summary.RowsLoaded != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if db.rows[DefaultTable] != 4 {
		t.Fatalf("expected rows to stay loaded, got %d", db.rows[DefaultTable])
	}
	if db.txCount != 0 {
		t.Fatalf("expected no transaction, got %d", db.txCount)
	}
}

func TestServiceRunInsertFailureLeavesFileUntracked(t *testing.T) {
	db := newMemDB()
	db.failInsert = &repository.DatabaseError{Op: "bulk insert", Err: errors.New("connection reset")}
	service, _ := newTestService(db, writeFixture(t, 3))

	_, err := service.Run(context.Background(), Request{})

	var dbErr *repository.DatabaseError
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
	if len(db.processed) != 0 {
		t.Fatalf("failed load must not be tracked, got %v", db.processed)
	}
}

func TestServiceRunRejectsUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), fixtureName)
	if err := os.WriteFile(path, []byte("<html>not found</html>"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	db := newMemDB()
	service, _ := newTestService(db, path)

	_, err := service.Run(context.Background(), Request{})

	var formatErr *transform.FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if len(db.tables) != 0 || len(db.processed) != 0 {
		t.Fatalf("unreadable file must not touch the database")
	}
}

func TestServiceRunUsesRequestedSchema(t *testing.T) {
	db := newMemDB()
	service := NewService(
		&stubStore{db: db, schema: DefaultSchema},
		&stubFetcher{path: writeFixture(t, 2)},
		transform.NewTransformer(nil),
		zap.NewNop(),
	)

	if _, err := service.Run(context.Background(), Request{Schema: "analytics"}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(db.schemas) != 1 || db.schemas["analytics"] == 0 {
		t.Fatalf("expected every repository call in schema analytics, got %v", db.schemas)
	}
}

func TestServiceRunDefaultsSchema(t *testing.T) {
	db := newMemDB()
	service, _ := newTestService(db, writeFixture(t, 1))

	if _, err := service.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(db.schemas) != 1 || db.schemas[DefaultSchema] == 0 {
		t.Fatalf("expected repository calls in %s, got %v", DefaultSchema, db.schemas)
	}
}

func TestRequestDefaults(t *testing.T) {
	req := Request{}.withDefaults()
	if req.Locator != DefaultLocator || req.Table != "raw_yellow_taxi" || req.Schema != "data_pipelines" {
		t.Fatalf("unexpected defaults: %+v", req)
	}

	req = Request{Locator: "s3://bucket/file.parquet", Table: "t", Schema: "s"}.withDefaults()
	if req.Locator != "s3://bucket/file.parquet" || req.Table != "t" || req.Schema != "s" {
		t.Fatalf("explicit values must be kept: %+v", req)
	}
}

type stubFetcher struct {
	path string
	err  error
}

func (f *stubFetcher) Fetch(ctx context.Context, locator string) (string, error) {
	return f.path, f.err
}

type memDB struct {
	mu              sync.Mutex
	processed       map[string]bool
	rows            map[string]int64
	tables          map[string]bool
	trackingEnsured int
	txCount         int
	onInsert        func()
	failInsert      error
	// schemas records the schema of every repository call.
	schemas map[string]int
}

func newMemDB() *memDB {
	return &memDB{
		processed: map[string]bool{},
		rows:      map[string]int64{},
		tables:    map[string]bool{},
		schemas:   map[string]int{},
	}
}

type txState struct {
	processed map[string]bool
	rows      map[string]int64
}

type stubStore struct {
	db     *memDB
	tx     *txState
	schema string
}

func (s *stubStore) ProcessedFiles() repository.ProcessedFileRepository {
	s.db.schemas[s.schema]++
	return &stubTracking{store: s}
}

func (s *stubStore) Trips() repository.TripRepository {
	s.db.schemas[s.schema]++
	return &stubTrips{store: s}
}

func (s *stubStore) Schema() string {
	return s.schema
}

func (s *stubStore) WithSchema(schema string) repository.Store {
	return &stubStore{db: s.db, tx: s.tx, schema: schema}
}

func (s *stubStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.tx != nil {
		return errors.New("nested transaction")
	}
	s.db.txCount++
	tx := &txState{processed: map[string]bool{}, rows: map[string]int64{}}
	if err := fn(&stubStore{db: s.db, tx: tx, schema: s.schema}); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for name := range tx.processed {
		s.db.processed[name] = true
	}
	for table, n := range tx.rows {
		s.db.rows[table] += n
	}
	return nil
}

type stubTracking struct {
	store *stubStore
}

func (r *stubTracking) EnsureTable(ctx context.Context) error {
	if r.store.tx != nil {
		return errors.New("migrations unavailable inside a transaction")
	}
	r.store.db.trackingEnsured++
	return nil
}

func (r *stubTracking) IsProcessed(ctx context.Context, fileName string) (bool, error) {
	r.store.db.mu.Lock()
	defer r.store.db.mu.Unlock()
	return r.store.db.processed[fileName], nil
}

func (r *stubTracking) MarkProcessed(ctx context.Context, fileName string) (bool, error) {
	db := r.store.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.processed[fileName] {
		return false, nil
	}
	if tx := r.store.tx; tx != nil {
		if tx.processed[fileName] {
			return false, nil
		}
		tx.processed[fileName] = true
		return true, nil
	}
	db.processed[fileName] = true
	return true, nil
}

func (r *stubTracking) List(ctx context.Context, limit int, offset int) ([]domain.ProcessedFile, error) {
	r.store.db.mu.Lock()
	defer r.store.db.mu.Unlock()
	var files []domain.ProcessedFile
	for name := range r.store.db.processed {
		files = append(files, domain.ProcessedFile{FileName: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })
	return files, nil
}

type stubTrips struct {
	store *stubStore
}

func (r *stubTrips) EnsureTable(ctx context.Context, table string) error {
	r.store.db.tables[table] = true
	return nil
}

func (r *stubTrips) BulkInsert(ctx context.Context, table string, columns []string, rows pgx.CopyFromSource) (int64, error) {
	db := r.store.db
	if db.failInsert != nil {
		return 0, db.failInsert
	}

	var n int64
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return 0, err
		}
		if len(values) != len(columns) {
			return 0, errors.New("row width does not match column list")
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if db.onInsert != nil {
		db.onInsert()
	}
	if tx := r.store.tx; tx != nil {
		tx.rows[table] += n
	} else {
		db.rows[table] += n
	}
	return n, nil
}

func (r *stubTrips) Count(ctx context.Context, table string) (int64, error) {
	return r.store.db.rows[table], nil
}
