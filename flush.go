package telemex // import "github.com/durastream/telemex"

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Flush forces a flush of all buffers now. It respects the per-buffer
// in-flight guards: if a flush of a given kind is already running the request
// for that kind is a no-op, like any other flush trigger.
func (e *Exporter) Flush(ctx context.Context) error {
	return multierr.Append(e.flushLogs(ctx), e.flushSpans(ctx))
}

// triggerLogFlush schedules an immediate asynchronous log flush. Debounced by
// the in-flight guard: a request while a flush is running is dropped and the
// next tick catches up.
func (e *Exporter) triggerLogFlush() {
	if e.logsFlushing.Load() {
		return
	}
	go func() { _ = e.flushLogs(context.Background()) }()
}

func (e *Exporter) triggerSpanFlush() {
	if e.spansFlushing.Load() {
		return
	}
	go func() { _ = e.flushSpans(context.Background()) }()
}

func (e *Exporter) flushLogsLoop() {
	defer e.loops.Done()
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = e.flushLogs(context.Background())
		case <-e.stopCh:
			return
		}
	}
}

func (e *Exporter) flushSpansLoop() {
	defer e.loops.Done()
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = e.flushSpans(context.Background())
		case <-e.stopCh:
			return
		}
	}
}

// flushLogs snapshots and clears the log queue, sorts the batch by the
// configured bucket keys to improve compressibility on the time-partitioned
// store, and bulk-inserts it. On failure the batch is re-queued up to
// remaining capacity, most recent entries favored.
func (e *Exporter) flushLogs(ctx context.Context) error {
	if !e.logsFlushing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.logsFlushing.Store(false)

	batch := e.logs.Drain()
	if len(batch) == 0 {
		return nil
	}
	// Sort a copy: the failure path requeues batch, which must stay in
	// insertion order so the bounded trim drops the oldest records.
	sorted := make([]*LogRecord, len(batch))
	copy(sorted, batch)
	e.sortByBucketKeys(sorted)
	docs := make([]map[string]any, len(sorted))
	for i, rec := range sorted {
		docs[i] = rec.document()
	}
	if err := e.store.BulkInsert(ctx, e.cfg.LogCollection, docs); err != nil {
		e.failedFlushes.Inc()
		e.breaker.RecordFailure()
		if dropped := e.logs.PushFront(batch, true); dropped > 0 {
			e.droppedLogs.Add(int64(dropped))
		}
		e.maybeReconnect(err)
		e.logger.Warn("log flush failed, batch requeued",
			zap.Int("batch_size", len(batch)), zap.Error(err))
		return err
	}
	e.breaker.RecordSuccess()
	e.exportedLogs.Add(int64(len(batch)))
	return nil
}

// flushSpans runs the two-phase span flush. The critical phase is always
// attempted regardless of circuit state: the WAL already guarantees
// durability, so a futile attempt against a down backend is cheap, and
// skipping it would only delay recovery. The normal phase is gated by the
// circuit breaker.
func (e *Exporter) flushSpans(ctx context.Context) error {
	if !e.spansFlushing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.spansFlushing.Store(false)

	var errs error

	if crit := e.critical.Drain(); len(crit) > 0 {
		docs := make([]map[string]any, len(crit))
		for i, span := range crit {
			docs[i] = span.document()
		}
		if err := e.store.BulkInsert(ctx, e.cfg.SpanCollection, docs); err != nil {
			e.failedFlushes.Inc()
			e.breaker.RecordFailure()
			// Critical data is never truncated: the whole batch goes back.
			e.critical.PushFront(crit, false)
			e.maybeReconnect(err)
			e.logger.Warn("critical span flush failed, batch requeued",
				zap.Int("batch_size", len(crit)), zap.Error(err))
			errs = multierr.Append(errs, err)
		} else {
			e.breaker.RecordSuccess()
			e.exportedSpans.Add(int64(len(crit)))
			e.rewriteWAL()
		}
	}

	if e.normal.Len() > 0 && e.breaker.CanExecute() {
		batch := e.normal.Drain()
		if len(batch) > 0 {
			docs := make([]map[string]any, len(batch))
			for i, span := range batch {
				docs[i] = span.document()
			}
			if err := e.store.BulkInsert(ctx, e.cfg.SpanCollection, docs); err != nil {
				e.failedFlushes.Inc()
				e.breaker.RecordFailure()
				if dropped := e.normal.PushFront(batch, true); dropped > 0 {
					e.droppedSpans.Add(int64(dropped))
				}
				e.maybeReconnect(err)
				e.logger.Warn("span flush failed, batch requeued",
					zap.Int("batch_size", len(batch)), zap.Error(err))
				errs = multierr.Append(errs, err)
			} else {
				e.breaker.RecordSuccess()
				e.exportedSpans.Add(int64(len(batch)))
			}
		}
	}

	return errs
}

// rewriteWAL replaces the WAL content with the spans still buffered after a
// confirmed flush: entries for persisted spans disappear, entries for spans
// that arrived mid-flight are retained. walMu makes the snapshot and the
// rewrite enqueue atomic against concurrent ingest, so a span admitted while
// a rewrite is being prepared either appears in the snapshot or has its
// append applied after the rewrite.
func (e *Exporter) rewriteWAL() {
	if e.wal == nil {
		return
	}
	e.walMu.Lock()
	defer e.walMu.Unlock()
	remaining := e.critical.Items()
	lines := make([][]byte, 0, len(remaining))
	for _, span := range remaining {
		line, err := json.Marshal(span)
		if err != nil {
			e.logger.Error("failed to serialize span for wal", zap.Error(err))
			continue
		}
		lines = append(lines, line)
	}
	e.wal.Rewrite(lines)
}

// sortByBucketKeys orders the batch by the configured bucket keys so that
// records sharing a bucket land adjacently in the store.
func (e *Exporter) sortByBucketKeys(batch []*LogRecord) {
	if len(e.cfg.BucketKeys) == 0 {
		return
	}
	keys := e.cfg.BucketKeys
	sort.SliceStable(batch, func(i, j int) bool {
		for _, key := range keys {
			a, b := batch[i].Metadata[key], batch[j].Metadata[key]
			if a != b {
				return a < b
			}
		}
		return false
	})
}

func (e *Exporter) maybeReconnect(err error) {
	if IsConnectionError(err) {
		e.requestReconnect()
	}
}

// reconnectLoop serially executes reconnect requests with a minimum
// inter-attempt interval that backs off exponentially across consecutive
// failed attempts. Requests arriving while an attempt is pending coalesce
// into one.
func (e *Exporter) reconnectLoop() {
	defer e.loops.Done()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.ReconnectMinInterval
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	interval := e.cfg.ReconnectMinInterval
	var last time.Time
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.reconnectCh:
		}
		if since := e.now().Sub(last); !last.IsZero() && since < interval {
			select {
			case <-time.After(interval - since):
			case <-e.stopCh:
				return
			}
		}
		last = e.now()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := e.store.Connect(ctx)
		if err == nil {
			e.provision(ctx)
		}
		cancel()
		if err != nil {
			interval = bo.NextBackOff()
			e.logger.Warn("store reconnect failed",
				zap.Duration("min_next_attempt", interval), zap.Error(err))
			continue
		}
		bo.Reset()
		interval = e.cfg.ReconnectMinInterval
		e.logger.Info("store reconnected")
	}
}
