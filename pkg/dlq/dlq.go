// Package dlq implements a dead-letter sink for permanently-failed
// (BAD/DISCARD) Batch Queue elements, adapted from the teacher's
// pkg/dlq.DeadLetterQueue: JSON-lines appended to a rotating file, logged
// with the reason and originating action.
package dlq

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rsyslog-core/pipeline/pkg/message"
)

// Entry is one dead-lettered message, recorded with enough context to
// triage without needing the live pipeline.
type Entry struct {
	Timestamp time.Time        `json:"timestamp"`
	Action    string           `json:"action"`
	Reason    string           `json:"reason"`
	Snapshot  message.Snapshot `json:"snapshot"`
}

// Config configures the on-disk dead-letter file.
type Config struct {
	Directory   string
	MaxFileSize int64
}

// Queue appends dead-lettered messages to a JSON-lines file, rotating once
// it exceeds MaxFileSize.
type Queue struct {
	cfg    Config
	logger *logrus.Logger

	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	size    int64
	index   int
}

// New opens (or creates) the dead-letter directory and its first segment.
func New(cfg Config, logger *logrus.Logger) (*Queue, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 32 * 1024 * 1024
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("dlq: create directory %s: %w", cfg.Directory, err)
	}

	q := &Queue{cfg: cfg, logger: logger}
	if err := q.rotate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Add appends one dead-lettered message, logging it at Warn level and
// persisting it to the current segment file.
func (q *Queue) Add(action, reason string, m *message.Message) {
	entry := Entry{Timestamp: time.Now().UTC(), Action: action, Reason: reason, Snapshot: m.ToSnapshot()}

	q.logger.WithFields(logrus.Fields{
		"action": action,
		"reason": reason,
	}).Warn("dlq: message dead-lettered")

	data, err := json.Marshal(entry)
	if err != nil {
		q.logger.WithError(err).Error("dlq: failed to marshal entry")
		return
	}
	data = append(data, '\n')

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.writer.Write(data); err != nil {
		q.logger.WithError(err).Error("dlq: failed to write entry")
		return
	}
	q.size += int64(len(data))
	if q.size >= q.cfg.MaxFileSize {
		if err := q.rotateLocked(); err != nil {
			q.logger.WithError(err).Error("dlq: failed to rotate segment")
		}
	}
}

func (q *Queue) rotate() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rotateLocked()
}

// rotateLocked closes the current segment and opens the next one. The
// caller holds q.mu.
func (q *Queue) rotateLocked() error {
	if q.writer != nil {
		q.writer.Flush()
	}
	if q.file != nil {
		q.file.Close()
	}

	path := filepath.Join(q.cfg.Directory, fmt.Sprintf("dlq_%06d.jsonl", q.index))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("dlq: open segment %s: %w", path, err)
	}
	q.file = f
	q.writer = bufio.NewWriter(f)
	q.size = 0
	q.index++
	return nil
}

// Close flushes and closes the active segment.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.writer != nil {
		q.writer.Flush()
	}
	if q.file != nil {
		return q.file.Close()
	}
	return nil
}
