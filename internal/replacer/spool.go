package replacer

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
	jsoniter "github.com/json-iterator/go"

	"github.com/arkilian/colflat/internal/errors"
	"github.com/arkilian/colflat/internal/observability"
	"github.com/arkilian/colflat/internal/processor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	spoolPrefix = "spool_"
	spoolSuffix = ".log"
	headerSize  = 8
)

// SpoolEntry is one replacement batch as stored in the spool.
type SpoolEntry struct {
	Seq       uint64   `json:"seq"`
	ProjectID string   `json:"project_id"`
	Messages  [][]byte `json:"messages"`
}

// Spool is a durable local sink for replacement batches, used when no
// stream is configured or to buffer during broker outages. Each entry is
// written as [length:4][crc32:4][snappy(json)] and fsynced.
type Spool struct {
	dir        string
	maxSegSize int64
	logger     log.Logger
	metrics    *observability.Metrics

	mu        sync.Mutex
	segment   *os.File
	segmentID uint64
	offset    int64
	seq       uint64
}

// OpenSpool opens the spool in dir, continuing after the last entry of the
// newest segment.
func OpenSpool(dir string, maxSegSize int64, logger log.Logger, metrics *observability.Metrics) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("replacer: failed to create spool directory: %w", err)
	}
	if maxSegSize <= 0 {
		maxSegSize = 16 << 20
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	s := &Spool{
		dir:        dir,
		maxSegSize: maxSegSize,
		logger:     log.With(logger, "component", "spool"),
		metrics:    metrics,
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	if n := len(segments); n > 0 {
		if _, err := fmt.Sscanf(filepath.Base(segments[n-1]), spoolPrefix+"%016x"+spoolSuffix, &s.segmentID); err != nil {
			return nil, fmt.Errorf("replacer: bad spool segment name %s: %w", segments[n-1], err)
		}
		entries, err := ReadSpool(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Seq > s.seq {
				s.seq = e.Seq
			}
		}
	}

	if err := s.openSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Spool) segmentPath(id uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%016x%s", spoolPrefix, id, spoolSuffix))
}

func (s *Spool) openSegment() error {
	file, err := os.OpenFile(s.segmentPath(s.segmentID), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("replacer: failed to open spool segment: %w", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("replacer: failed to seek spool segment: %w", err)
	}
	s.segment = file
	s.offset = offset
	return nil
}

// Forward appends the batch to the spool.
func (s *Spool) Forward(_ context.Context, batch *processor.ReplacementBatch) error {
	if batch == nil || len(batch.Messages) == 0 {
		return nil
	}

	entry := SpoolEntry{ProjectID: batch.ProjectID, Messages: make([][]byte, len(batch.Messages))}
	for i, msg := range batch.Messages {
		raw, err := processor.EncodeMessage(msg)
		if err != nil {
			return errors.NewInternalError("replacer: encode message", err)
		}
		entry.Messages[i] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.segment == nil {
		return fmt.Errorf("replacer: spool is closed")
	}

	s.seq++
	entry.Seq = s.seq
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("replacer: failed to serialize spool entry: %w", err)
	}
	compressed := snappy.Encode(nil, payload)

	if err := s.writeEntry(compressed); err != nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "replacer: spool append", err)
	}
	s.metrics.AddReplacementsForwarded(len(entry.Messages))
	return nil
}

func (s *Spool) writeEntry(payload []byte) error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := s.segment.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := s.segment.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := s.segment.Sync(); err != nil {
		return fmt.Errorf("failed to fsync: %w", err)
	}

	s.offset += int64(headerSize + len(payload))
	if s.offset >= s.maxSegSize {
		return s.rotate()
	}
	return nil
}

func (s *Spool) rotate() error {
	if err := s.segment.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	s.segmentID++
	return s.openSegment()
}

// Replay forwards every spooled batch to sink in append order and removes
// the segments that were fully forwarded. It stops at the first failure,
// leaving the remaining entries in place.
func (s *Spool) Replay(ctx context.Context, sink Sink) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.segment == nil {
		return 0, fmt.Errorf("replacer: spool is closed")
	}
	// Start a fresh segment so the ones being replayed are immutable.
	if s.offset > 0 {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}

	segments, err := listSegments(s.dir)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, path := range segments {
		if path == s.segmentPath(s.segmentID) {
			continue
		}
		entries, err := ReadSegment(path)
		if err != nil {
			return replayed, err
		}
		for _, entry := range entries {
			batch, err := entry.Batch()
			if err != nil {
				level.Warn(s.logger).Log("msg", "dropping undecodable spool entry", "seq", entry.Seq, "err", err)
				continue
			}
			if err := sink.Forward(ctx, batch); err != nil {
				return replayed, err
			}
			replayed++
		}
		if err := os.Remove(path); err != nil {
			return replayed, fmt.Errorf("replacer: failed to remove replayed segment: %w", err)
		}
	}

	if replayed > 0 {
		level.Info(s.logger).Log("msg", "replayed spooled replacements", "batches", replayed)
	}
	return replayed, nil
}

// Close fsyncs and closes the current segment.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.segment == nil {
		return nil
	}
	if err := s.segment.Sync(); err != nil {
		return fmt.Errorf("replacer: failed to fsync on close: %w", err)
	}
	err := s.segment.Close()
	s.segment = nil
	return err
}

// Batch decodes the spooled messages back into a replacement batch.
func (e *SpoolEntry) Batch() (*processor.ReplacementBatch, error) {
	batch := &processor.ReplacementBatch{ProjectID: e.ProjectID}
	for _, raw := range e.Messages {
		msg, err := processor.DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		batch.Messages = append(batch.Messages, msg)
	}
	return batch, nil
}

// ReadSpool reads every entry of every segment in dir, oldest first.
func ReadSpool(dir string) ([]*SpoolEntry, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	var all []*SpoolEntry
	for _, path := range segments {
		entries, err := ReadSegment(path)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// ReadSegment reads the entries of one segment file. A truncated tail is
// ignored and entries failing their checksum are skipped.
func ReadSegment(path string) ([]*SpoolEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replacer: failed to open spool segment: %w", err)
	}
	defer file.Close()

	var entries []*SpoolEntry
	var header [headerSize]byte
	for {
		if _, err := io.ReadFull(file, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("replacer: failed to read entry header: %w", err)
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			break
		}
		if crc32.ChecksumIEEE(payload) != crc {
			continue
		}

		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			continue
		}
		var entry SpoolEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func listSegments(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("replacer: failed to read spool directory: %w", err)
	}
	var segments []string
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, spoolPrefix) || !strings.HasSuffix(name, spoolSuffix) {
			continue
		}
		segments = append(segments, filepath.Join(dir, name))
	}
	// Names carry a fixed width hex id, so lexical order is append order.
	sort.Strings(segments)
	return segments, nil
}
