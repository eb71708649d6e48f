// Package wal implements the append-only write-ahead log that makes critical
// spans crash-safe between ingestion and confirmed backend persistence.
//
// The log is a single local file holding one serialized record per line.
// Appends are fire-and-forget: they are queued on a buffered channel and
// written by a dedicated goroutine, so the ingestion path never waits on disk
// I/O. Write failures are logged and never surfaced to the producer.
package wal // import "github.com/durastream/telemex/internal/wal"

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const opBacklog = 1024

type opKind int

const (
	opAppend opKind = iota
	opRewrite
	opSync
)

type walOp struct {
	kind  opKind
	line  []byte
	lines [][]byte
	done  chan struct{}
}

// Log is a line-oriented write-ahead log.
type Log struct {
	path   string
	logger *zap.Logger

	file *os.File

	mu      sync.RWMutex
	closed  bool
	ops     chan walOp
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// Open opens or creates the log file at path. Start must be called before
// Append; Replay must be called before Start.
func Open(path string, logger *zap.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal %q: %w", path, err)
	}
	return &Log{
		path:   path,
		logger: logger,
		file:   f,
		ops:    make(chan walOp, opBacklog),
	}, nil
}

// Replay reads the log line by line and passes each line to fn. Lines fn
// rejects are counted as skipped and logged, never fatal: a corrupt tail must
// not prevent startup.
func (l *Log) Replay(fn func(line []byte) error) (replayed, skipped int, err error) {
	if _, err := l.file.Seek(0, 0); err != nil {
		return 0, 0, fmt.Errorf("seek wal %q: %w", l.path, err)
	}
	sc := bufio.NewScanner(l.file)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			skipped++
			l.logger.Warn("skipping malformed wal line", zap.Error(err))
			continue
		}
		replayed++
	}
	if err := sc.Err(); err != nil {
		// A truncated tail is expected after a crash mid-write.
		l.logger.Warn("wal replay stopped early", zap.Error(err), zap.Int("replayed", replayed))
	}
	return replayed, skipped, nil
}

// Start launches the background writer.
func (l *Log) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for op := range l.ops {
			l.apply(op)
		}
	}()
}

// Append queues one line for writing. It never blocks: if the writer backlog
// is full the line is dropped and the drop is logged loudly.
func (l *Log) Append(line []byte) {
	l.enqueue(walOp{kind: opAppend, line: line})
}

// Rewrite queues an atomic replacement of the whole file content with the
// given lines. Used after a confirmed critical flush: entries for flushed
// spans are removed while entries for spans that arrived mid-flight are kept.
func (l *Log) Rewrite(lines [][]byte) {
	l.enqueue(walOp{kind: opRewrite, lines: lines})
}

// Sync blocks until all previously queued operations have been applied and
// the file is fsynced. Only used on shutdown and in tests; the ingestion path
// never calls it.
func (l *Log) Sync() {
	done := make(chan struct{})
	if !l.enqueue(walOp{kind: opSync, done: done}) {
		return
	}
	<-done
}

// Dropped returns the number of lines dropped due to writer backlog overflow.
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// Close drains pending operations and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ops)
	l.mu.Unlock()

	l.wg.Wait()
	return l.file.Close()
}

func (l *Log) enqueue(op walOp) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.ops <- op:
		return true
	default:
		l.dropped.Inc()
		l.logger.Error("wal writer backlog full, dropping write",
			zap.String("path", l.path))
		return false
	}
}

func (l *Log) apply(op walOp) {
	switch op.kind {
	case opAppend:
		l.write(op.line)
	case opRewrite:
		if err := l.file.Truncate(0); err != nil {
			l.logger.Error("wal truncate failed", zap.String("path", l.path), zap.Error(err))
			return
		}
		if _, err := l.file.Seek(0, 0); err != nil {
			l.logger.Error("wal seek failed", zap.String("path", l.path), zap.Error(err))
			return
		}
		for _, line := range op.lines {
			l.write(line)
		}
	case opSync:
		if err := l.file.Sync(); err != nil {
			l.logger.Error("wal sync failed", zap.String("path", l.path), zap.Error(err))
		}
		close(op.done)
	}
}

func (l *Log) write(line []byte) {
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		l.logger.Error("wal append failed", zap.String("path", l.path), zap.Error(err))
	}
}
