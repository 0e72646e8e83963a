package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/query/ast"
	"github.com/arkilian/colflat/internal/storage"
)

// SegmentInfo describes a sealed segment.
type SegmentInfo struct {
	SegmentID  string    `json:"segment_id"`
	LocalPath  string    `json:"local_path,omitempty"`
	ObjectPath string    `json:"object_path"`
	RowCount   int64     `json:"row_count"`
	MinRowID   int64     `json:"min_rowid"`
	MaxRowID   int64     `json:"max_rowid"`
	SealedAt   time.Time `json:"sealed_at"`
}

// Seal copies every row written since the previous seal into a new
// segment database and uploads it to the archive. It returns nil when
// there is nothing to seal. Rows stay queryable in the live table.
func (s *Store) Seal(ctx context.Context) (*SegmentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealLocked(ctx)
}

func (s *Store) sealLocked(ctx context.Context) (*SegmentInfo, error) {
	if s.pending == 0 {
		return nil, nil
	}

	table := ast.QuoteIdent(s.schema.Table)
	var maxRowID int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(rowid), 0) FROM "+table).Scan(&maxRowID); err != nil {
		return nil, fmt.Errorf("store: failed to read max rowid: %w", err)
	}

	info := &SegmentInfo{
		SegmentID: uuid.New().String(),
		MinRowID:  s.watermark + 1,
		MaxRowID:  maxRowID,
		SealedAt:  time.Now().UTC(),
	}
	info.LocalPath = filepath.Join(s.cfg.Dir, "segments", fmt.Sprintf("%s-%s.db", s.schema.Table, info.SegmentID))
	info.ObjectPath = path.Join(s.cfg.ArchivePrefix, s.schema.Table, info.SegmentID+".db")

	rows, err := s.copySegment(ctx, info)
	if err != nil {
		os.Remove(info.LocalPath)
		return nil, err
	}
	info.RowCount = rows

	if s.cfg.Archive != nil {
		if err := s.cfg.Archive.Upload(ctx, info.LocalPath, info.ObjectPath); err != nil {
			os.Remove(info.LocalPath)
			return nil, errors.NewStorageError(errors.CodeUploadFailed, "store: upload segment", err)
		}
		if err := os.Remove(info.LocalPath); err != nil {
			level.Warn(s.logger).Log("msg", "failed to remove uploaded segment", "path", info.LocalPath, "err", err)
		}
		info.LocalPath = ""
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO "+segmentsTable+" (segment_id, object_path, row_count, min_rowid, max_rowid, sealed_at) VALUES (?, ?, ?, ?, ?, ?)",
		info.SegmentID, info.ObjectPath, info.RowCount, info.MinRowID, info.MaxRowID,
		info.SealedAt.Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("store: failed to record segment: %w", err)
	}

	s.watermark = maxRowID
	s.pending = 0
	s.cfg.Metrics.IncSegmentsSealed()
	level.Info(s.logger).Log("msg", "sealed segment", "segment", info.SegmentID, "rows", info.RowCount,
		"object", info.ObjectPath)
	return info, nil
}

// copySegment writes rows (watermark, MaxRowID] into a fresh database
// attached to the live connection.
func (s *Store) copySegment(ctx context.Context, info *SegmentInfo) (int64, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS segment", info.LocalPath); err != nil {
		return 0, fmt.Errorf("store: failed to attach segment: %w", err)
	}
	defer conn.ExecContext(context.Background(), "DETACH DATABASE segment")

	if _, err := conn.ExecContext(ctx, createTableStatement("segment", s.schema)); err != nil {
		return 0, fmt.Errorf("store: failed to create segment table: %w", err)
	}

	table := ast.QuoteIdent(s.schema.Table)
	res, err := conn.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO segment.%s SELECT * FROM main.%s WHERE rowid BETWEEN ? AND ?", table, table),
		info.MinRowID, info.MaxRowID)
	if err != nil {
		return 0, fmt.Errorf("store: failed to copy rows: %w", err)
	}
	return res.RowsAffected()
}

// Segments lists the sealed segments, oldest first.
func (s *Store) Segments(ctx context.Context) ([]SegmentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT segment_id, object_path, row_count, min_rowid, max_rowid, sealed_at FROM "+segmentsTable+" ORDER BY max_rowid")
	if err != nil {
		return nil, fmt.Errorf("store: failed to list segments: %w", err)
	}
	defer rows.Close()

	var out []SegmentInfo
	for rows.Next() {
		var (
			info     SegmentInfo
			sealedAt sql.NullString
		)
		if err := rows.Scan(&info.SegmentID, &info.ObjectPath, &info.RowCount, &info.MinRowID, &info.MaxRowID, &sealedAt); err != nil {
			return nil, fmt.Errorf("store: failed to scan segment: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, sealedAt.String); err == nil {
			info.SealedAt = t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// FetchSegments downloads every archived segment into dir and returns
// their local paths in seal order.
func (s *Store) FetchSegments(ctx context.Context, dir string, concurrency int) ([]string, error) {
	if s.cfg.Archive == nil {
		return nil, fmt.Errorf("store: no archive configured")
	}
	segments, err := s.Segments(ctx)
	if err != nil {
		return nil, err
	}
	objects := make([]string, len(segments))
	for i, seg := range segments {
		objects[i] = seg.ObjectPath
	}

	result, err := storage.NewFetcher(s.cfg.Archive, concurrency, dir).Fetch(ctx, objects)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(objects))
	for _, object := range objects {
		if ferr, ok := result.Errors[object]; ok {
			return nil, errors.NewStorageError(errors.CodeDownloadFailed,
				fmt.Sprintf("store: fetch segment %s", object), ferr)
		}
		paths = append(paths, result.LocalPaths[object])
	}
	return paths, nil
}
