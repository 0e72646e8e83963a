// Package store keeps processed rows in a local SQLite database whose table
// mirrors the dataset schema, runs rewritten queries against it and seals
// batches of rows into immutable segment files for the archive.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/query/ast"
	"github.com/arkilian/colflat/internal/storage"
	"github.com/arkilian/colflat/pkg/types"
)

const segmentsTable = "_colflat_segments"

// Config configures a Store.
type Config struct {
	// Dir holds the live database and segments awaiting upload.
	Dir string

	// MaxRowsPerSegment seals a segment once this many rows were written
	// since the last seal. Zero disables automatic sealing.
	MaxRowsPerSegment int

	// Archive receives sealed segments. When nil, segments stay in Dir.
	Archive storage.ObjectStorage

	// ArchivePrefix is prepended to archived object paths.
	ArchivePrefix string

	Logger  log.Logger
	Metrics *observability.Metrics
}

// Store is the row store of one dataset.
type Store struct {
	mu     sync.Mutex
	cfg    Config
	schema *types.Schema
	db     *sql.DB
	logger log.Logger

	insertSQL string
	watermark int64 // highest rowid already sealed
	pending   int
}

// Open opens (or creates) the store for schema under cfg.Dir.
func Open(ctx context.Context, schema *types.Schema, cfg Config) (*Store, error) {
	if schema == nil || len(schema.Columns) == 0 {
		return nil, fmt.Errorf("store: schema has no columns")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "segments"), 0755); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}
	registerDriver()

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	path := filepath.Join(cfg.Dir, schema.Table+".db")
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	// ATTACH is per connection, sealing relies on a single one.
	db.SetMaxOpenConns(1)

	s := &Store{
		cfg:       cfg,
		schema:    schema,
		db:        db,
		logger:    log.With(logger, "component", "store", "table", schema.Table),
		insertSQL: insertStatement(schema),
	}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("store: failed to set journal mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTableStatement("main", s.schema)); err != nil {
		return fmt.Errorf("store: failed to create table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+segmentsTable+` (
		segment_id TEXT PRIMARY KEY,
		object_path TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		min_rowid INTEGER NOT NULL,
		max_rowid INTEGER NOT NULL,
		sealed_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("store: failed to create segments table: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(max_rowid), 0) FROM "+segmentsTable).Scan(&s.watermark); err != nil {
		return fmt.Errorf("store: failed to read watermark: %w", err)
	}
	var pending int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+ast.QuoteIdent(s.schema.Table)+" WHERE rowid > ?", s.watermark).Scan(&pending); err != nil {
		return fmt.Errorf("store: failed to count pending rows: %w", err)
	}
	s.pending = pending
	return nil
}

// Schema returns the schema the store was opened with.
func (s *Store) Schema() *types.Schema {
	return s.schema
}

// Write inserts rows in one transaction. Columns missing from a row are
// stored with the column default. A segment is sealed when the configured
// row count is reached.
func (s *Store) Write(ctx context.Context, rows []types.Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insert(ctx, rows); err != nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "store: write rows", err)
	}
	s.pending += len(rows)
	s.cfg.Metrics.AddRowsWritten(len(rows))

	if s.cfg.MaxRowsPerSegment > 0 && s.pending >= s.cfg.MaxRowsPerSegment {
		if _, err := s.sealLocked(ctx); err != nil {
			// The rows are committed; sealing is retried on the next write.
			level.Error(s.logger).Log("msg", "failed to seal segment", "err", err)
		}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, rows []types.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(s.schema.Columns))
	for _, row := range rows {
		for i, col := range s.schema.Columns {
			v, ok := row[col.Name]
			if !ok {
				v = col.Default()
			}
			if args[i], err = encodeValue(col, v); err != nil {
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return tx.Commit()
}

// Query executes a planned query and returns its rows keyed by output name.
func (s *Store) Query(ctx context.Context, q *ast.Query) ([]map[string]interface{}, error) {
	if q.From == "" {
		q.From = s.schema.Table
	}
	names := make([]string, len(q.Selected))
	for i, sel := range q.Selected {
		names[i] = sel.OutputName()
	}

	rows, err := s.db.QueryContext(ctx, q.String())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryQuery, errors.CodeExecutionFailed, "store: query", err)
	}
	defer rows.Close()

	var result []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(names))
		ptrs := make([]interface{}, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(errors.ErrCategoryQuery, errors.CodeExecutionFailed, "store: scan", err)
		}
		record := make(map[string]interface{}, len(names))
		for i, name := range names {
			record[name] = decodeValue(values[i])
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryQuery, errors.CodeExecutionFailed, "store: rows", err)
	}
	return result, nil
}

// Pending returns the number of rows written since the last seal.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTableStatement(schemaName string, schema *types.Schema) string {
	cols := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		cols[i] = ast.QuoteIdent(col.Name) + " " + sqliteType(col.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (%s)",
		schemaName, ast.QuoteIdent(schema.Table), strings.Join(cols, ", "))
}

func insertStatement(schema *types.Schema) string {
	cols := make([]string, len(schema.Columns))
	marks := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		cols[i] = ast.QuoteIdent(col.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ast.QuoteIdent(schema.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))
}
