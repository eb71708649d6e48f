// Package dlq implements the dead-letter file that absorbs critical spans
// evicted from the in-memory buffer at its hard cap. It is a last-resort
// valve: data lands here only when the backend has been down long enough to
// fill the critical buffer, and reconciliation happens offline.
package dlq // import "github.com/durastream/telemex/internal/dlq"

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const chunkBacklog = 64

type dlqOp struct {
	lines [][]byte
	done  chan struct{}
}

// Writer appends chunks of serialized records to the dead-letter file on a
// background goroutine. Relocate never blocks the caller; disk failures are
// retried a few times and then logged loudly as bounded data loss.
type Writer struct {
	path   string
	logger *zap.Logger

	file *os.File

	mu        sync.RWMutex
	closed    bool
	ops       chan dlqOp
	wg        sync.WaitGroup
	relocated atomic.Int64
	lost      atomic.Int64
}

// Open opens or creates the dead-letter file and starts the writer goroutine.
func Open(path string, logger *zap.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dlq %q: %w", path, err)
	}
	w := &Writer{
		path:   path,
		logger: logger,
		file:   f,
		ops:    make(chan dlqOp, chunkBacklog),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Relocate queues a chunk of serialized records for appending. It never
// blocks: if the writer backlog is full the chunk is dropped with a loud log,
// an acknowledged bounded-loss case when the disk cannot keep up.
func (w *Writer) Relocate(lines [][]byte) {
	if len(lines) == 0 {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.lost.Add(int64(len(lines)))
		return
	}
	select {
	case w.ops <- dlqOp{lines: lines}:
	default:
		w.lost.Add(int64(len(lines)))
		w.logger.Error("dlq writer backlog full, dropping relocated records",
			zap.String("path", w.path),
			zap.Int("records", len(lines)))
	}
}

// Relocated returns the number of records successfully written to the file.
func (w *Writer) Relocated() int64 {
	return w.relocated.Load()
}

// Lost returns the number of records that could not be written.
func (w *Writer) Lost() int64 {
	return w.lost.Load()
}

// Sync blocks until all previously queued chunks have been written. Shutdown
// and test helper only; the ingestion path never calls it.
func (w *Writer) Sync() {
	done := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return
	}
	w.ops <- dlqOp{done: done}
	w.mu.RUnlock()
	<-done
}

// Close drains queued chunks and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ops)
	w.mu.Unlock()

	w.wg.Wait()
	return w.file.Close()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for op := range w.ops {
		if op.done != nil {
			close(op.done)
			continue
		}
		w.writeChunk(op.lines)
	}
}

func (w *Writer) writeChunk(lines [][]byte) {
	total := len(lines)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	op := func() error {
		for len(lines) > 0 {
			if _, err := w.file.Write(append(lines[0], '\n')); err != nil {
				return err
			}
			lines = lines[1:]
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, 2)); err != nil {
		w.lost.Add(int64(len(lines)))
		w.logger.Error("dlq append failed, records lost",
			zap.String("path", w.path),
			zap.Int("records", len(lines)),
			zap.Error(err))
		w.relocated.Add(int64(total - len(lines)))
		return
	}
	w.relocated.Add(int64(total))
}
