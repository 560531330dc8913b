// Package spool implements the disk-assist backing a Batch Queue overflows
// onto (spec §4.6 "Disk-assist semantics"), adapted from the teacher's
// pkg/buffer.DiskBuffer: length-prefixed, checksummed, optionally
// zstd-compressed records in a rotating set of segment files.
package spool

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/rsyslog-core/pipeline/pkg/message"
)

// Config configures a Spool's on-disk layout and rotation thresholds.
type Config struct {
	BaseDir         string
	MaxSegmentBytes int64
	Compressed      bool
	FilePermissions os.FileMode
	DirPermissions  os.FileMode
}

// record is the on-disk envelope around one spilled Message: its snapshot
// plus a checksum, mirroring the teacher's BufferEntry.
type record struct {
	Snapshot message.Snapshot `json:"snapshot"`
	Checksum [32]byte         `json:"checksum"`
}

// Spool is an append-only, checksummed on-disk queue of spilled Messages.
// It implements pkg/batchqueue.Spiller.
type Spool struct {
	cfg    Config
	logger *logrus.Logger

	mu          sync.Mutex
	file        *os.File
	writer      *bufio.Writer
	zw          *zstd.Encoder
	segmentSize int64
	segmentIdx  int

	segments []string // known segment files, oldest first, awaiting Drain
}

// New opens (or creates) a spool rooted at cfg.BaseDir. Any segments left
// over from a prior run are discovered so the first Drain call returns
// them.
func New(cfg Config, logger *logrus.Logger) (*Spool, error) {
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = 64 * 1024 * 1024
	}
	if cfg.FilePermissions == 0 {
		cfg.FilePermissions = 0644
	}
	if cfg.DirPermissions == 0 {
		cfg.DirPermissions = 0755
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(cfg.BaseDir, cfg.DirPermissions); err != nil {
		return nil, fmt.Errorf("spool: create base dir %s: %w", cfg.BaseDir, err)
	}

	s := &Spool{cfg: cfg, logger: logger}

	existing, err := filepath.Glob(filepath.Join(cfg.BaseDir, "segment_*.dat"))
	if err != nil {
		return nil, fmt.Errorf("spool: scan existing segments: %w", err)
	}
	sort.Strings(existing)
	s.segments = existing

	maxIdx := -1
	for _, f := range existing {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(f), "segment_%d.dat", &idx); err == nil && idx > maxIdx {
			maxIdx = idx
		}
	}
	s.segmentIdx = maxIdx + 1

	if err := s.rotate(); err != nil {
		return nil, fmt.Errorf("spool: open first segment: %w", err)
	}
	return s, nil
}

// Spill appends one Message to the active segment, rotating to a new
// segment once MaxSegmentBytes is exceeded.
func (s *Spool) Spill(m *message.Message) error {
	snap := m.ToSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("spool: marshal snapshot: %w", err)
	}
	rec := record{Snapshot: snap, Checksum: sha256.Sum256(data)}
	recData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("spool: marshal record: %w", err)
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(recData)))

	s.mu.Lock()
	defer s.mu.Unlock()

	var w io.Writer = s.writer
	if s.zw != nil {
		w = s.zw
	}
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("spool: write length prefix: %w", err)
	}
	if _, err := w.Write(recData); err != nil {
		return fmt.Errorf("spool: write record: %w", err)
	}

	s.segmentSize += int64(len(lenBuf) + len(recData))
	if s.segmentSize >= s.cfg.MaxSegmentBytes {
		if err := s.rotate(); err != nil {
			s.logger.WithError(err).Error("spool: failed to rotate segment")
		}
	}
	return nil
}

// Drain reads back every segment written by a prior process (or by this
// one, up to the currently-open segment, which it flushes first) and
// removes the consumed files, returning the reconstructed Messages in
// write order.
func (s *Spool) Drain() ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Close the active segment rather than merely flushing it: Drain must
	// be able to remove every segment file, including the one currently
	// open for writes, and reopen a fresh one afterward.
	if err := s.closeLocked(); err != nil {
		return nil, err
	}

	var out []*message.Message
	remaining := s.segments
	s.segments = nil

	for _, path := range remaining {
		msgs, err := s.readSegment(path)
		if err != nil {
			s.logger.WithError(err).WithField("segment", path).Error("spool: failed to read segment, skipping")
			continue
		}
		out = append(out, msgs...)
		if err := os.Remove(path); err != nil {
			s.logger.WithError(err).WithField("segment", path).Warn("spool: failed to remove drained segment")
		}
	}

	if err := s.rotate(); err != nil {
		return out, fmt.Errorf("spool: reopen segment after drain: %w", err)
	}
	return out, nil
}

// Len reports the number of not-yet-drained segment files on disk. It is
// an approximation of queue depth, not an exact message count, since
// segments are only inspected at Drain time.
func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

func (s *Spool) readSegment(path string) ([]*message.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spool: open segment %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if s.cfg.Compressed {
		zr, err := zstd.NewReader(f)
		if err == nil {
			defer zr.Close()
			r = zr
		}
	}

	br := bufio.NewReader(r)
	var out []*message.Message
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			if err == io.EOF {
				break
			}
			return out, fmt.Errorf("spool: read length prefix: %w", err)
		}
		n := binary.LittleEndian.Uint32(lenBuf)
		if n > 64*1024*1024 {
			return out, fmt.Errorf("spool: implausible record length %d", n)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return out, fmt.Errorf("spool: read record: %w", err)
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.WithError(err).Warn("spool: corrupt record, skipping")
			continue
		}
		snapData, err := json.Marshal(rec.Snapshot)
		if err == nil && sha256.Sum256(snapData) != rec.Checksum {
			s.logger.Warn("spool: checksum mismatch, skipping record")
			continue
		}
		out = append(out, message.FromSnapshot(rec.Snapshot))
	}
	return out, nil
}

func (s *Spool) rotate() error {
	if err := s.closeLocked(); err != nil {
		return err
	}

	path := filepath.Join(s.cfg.BaseDir, fmt.Sprintf("segment_%06d.dat", s.segmentIdx))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, s.cfg.FilePermissions)
	if err != nil {
		return fmt.Errorf("spool: create segment %s: %w", path, err)
	}

	s.file = f
	s.writer = bufio.NewWriter(f)
	s.segmentSize = 0
	s.segmentIdx++
	s.segments = append(s.segments, path)

	if s.cfg.Compressed {
		zw, err := zstd.NewWriter(s.writer)
		if err != nil {
			return fmt.Errorf("spool: create zstd writer: %w", err)
		}
		s.zw = zw
	}
	return nil
}

func (s *Spool) closeLocked() error {
	var lastErr error
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			lastErr = err
		}
		s.zw = nil
	}
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil && lastErr == nil {
			lastErr = err
		}
		s.writer = nil
	}
	if s.file != nil {
		if err := s.file.Sync(); err != nil && lastErr == nil {
			lastErr = err
		}
		if err := s.file.Close(); err != nil && lastErr == nil {
			lastErr = err
		}
		s.file = nil
	}
	return lastErr
}

// Close flushes and closes the active segment without removing any data.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}
