package telemex // import "github.com/durastream/telemex"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/durastream/telemex/internal/breaker"
	"github.com/durastream/telemex/internal/dlq"
	"github.com/durastream/telemex/internal/queue"
	"github.com/durastream/telemex/internal/wal"
)

// Lifecycle states.
const (
	stateUninitialized int32 = iota
	stateInitializing
	stateReady
	stateShuttingDown
	stateClosed
)

// Option customizes an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger for the exporter's own diagnostics. Defaults to
// a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

// WithCriticalPredicate replaces the default criticality check (presence of
// the configured usage attribute) with an arbitrary predicate.
func WithCriticalPredicate(pred func(SpanRecord) bool) Option {
	return func(e *Exporter) { e.isCritical = pred }
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// Exporter is the resilient telemetry export engine. ExportLog and ExportSpan
// are synchronous and non-blocking: they only mutate in-memory bounded queues
// and never wait on network or disk I/O. All backend and disk interaction
// happens on background goroutines, and no failure ever propagates back to an
// instrumentation call site.
type Exporter struct {
	cfg    Config
	store  Store
	logger *zap.Logger
	now    func() time.Time

	isCritical func(SpanRecord) bool

	logs     *queue.Buffer[*LogRecord]
	normal   *queue.Buffer[*SpanRecord]
	critical *queue.Buffer[*SpanRecord]
	breaker  *breaker.Breaker
	wal      *wal.Log
	dlq      *dlq.Writer

	// walMu orders critical buffer admission + WAL append enqueue against the
	// buffer snapshot + WAL rewrite enqueue in rewriteWAL. Without it a span
	// admitted between the snapshot and the rewrite enqueue would have its WAL
	// line wiped while still only in memory.
	walMu sync.Mutex

	state       atomic.Int32
	provisioned atomic.Bool

	logsFlushing  atomic.Bool
	spansFlushing atomic.Bool

	reconnectCh chan struct{}
	stopCh      chan struct{}
	loops       sync.WaitGroup

	droppedLogs    atomic.Int64
	droppedSpans   atomic.Int64
	relocatedSpans atomic.Int64
	exportedLogs   atomic.Int64
	exportedSpans  atomic.Int64
	failedFlushes  atomic.Int64
}

// New creates an exporter for the given store. The exporter owns no
// connections until Start is called.
func New(cfg Config, store Store, opts ...Option) (*Exporter, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	e := &Exporter{
		cfg:         cfg,
		store:       store,
		logger:      zap.NewNop(),
		now:         time.Now,
		logs:        queue.New[*LogRecord](cfg.MaxBufferSize),
		normal:      queue.New[*SpanRecord](cfg.MaxBufferSize),
		critical:    queue.New[*SpanRecord](cfg.MaxCriticalBufferSize),
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.isCritical == nil {
		key := cfg.UsageAttributeKey
		e.isCritical = func(span SpanRecord) bool {
			_, ok := span.Attributes.Get(key)
			return ok
		}
	}
	e.breaker = breaker.New(breaker.Settings{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		Now:              e.now,
		Logger:           e.logger,
	})
	return e, nil
}

// Start opens the WAL and dead-letter files, replays the WAL into the
// critical buffer, connects to the backend store, provisions collections and
// indexes, and starts the flush and health timers. It is idempotent; calling
// Start on a running exporter is a no-op. A failed backend connection is
// absorbed: the exporter starts anyway and reconnects in the background,
// while a failure to open the local durability files is fatal because the
// no-loss guarantee cannot be honored without them.
func (e *Exporter) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateUninitialized, stateInitializing) {
		switch e.state.Load() {
		case stateInitializing, stateReady:
			return nil
		default:
			return ErrShutdown
		}
	}

	w, err := wal.Open(e.cfg.WALPath, e.logger)
	if err != nil {
		e.state.Store(stateUninitialized)
		return err
	}
	d, err := dlq.Open(e.cfg.DLQPath, e.logger)
	if err != nil {
		_ = w.Close()
		e.state.Store(stateUninitialized)
		return err
	}
	e.wal = w
	e.dlq = d

	replayed, skipped, err := w.Replay(func(line []byte) error {
		var span SpanRecord
		if err := json.Unmarshal(line, &span); err != nil {
			return err
		}
		e.critical.Add(&span)
		return nil
	})
	if err != nil {
		e.logger.Error("wal replay failed", zap.Error(err))
	}
	if replayed > 0 || skipped > 0 {
		e.logger.Info("write-ahead log replayed",
			zap.Int("replayed", replayed),
			zap.Int("skipped", skipped))
	}
	w.Start()

	if err := e.store.Connect(ctx); err != nil {
		e.logger.Error("initial store connection failed, reconnecting in background", zap.Error(err))
		e.requestReconnect()
	} else {
		e.provision(ctx)
	}

	e.loops.Add(4)
	go e.flushLogsLoop()
	go e.flushSpansLoop()
	go e.healthLoop()
	go e.reconnectLoop()

	e.state.Store(stateReady)
	return nil
}

// provision creates the target collections with time-partitioned settings and
// the configured secondary indexes. Index failures are logged and non-fatal;
// a collection failure re-arms provisioning for the next successful
// reconnect.
func (e *Exporter) provision(ctx context.Context) {
	if !e.provisioned.CompareAndSwap(false, true) {
		return
	}
	collections := []struct {
		name string
		opts CollectionOptions
	}{
		{e.cfg.LogCollection, CollectionOptions{
			TimeSeries:    true,
			TimeField:     "timestamp",
			MetaField:     "metadata",
			RetentionDays: e.cfg.RetentionDays,
		}},
		{e.cfg.SpanCollection, CollectionOptions{
			TimeSeries:    true,
			TimeField:     "startTime",
			MetaField:     "tenantId",
			RetentionDays: e.cfg.RetentionDays,
		}},
	}
	for _, c := range collections {
		if err := e.store.EnsureCollection(ctx, c.name, c.opts); err != nil {
			e.logger.Error("collection provisioning failed",
				zap.String("collection", c.name), zap.Error(err))
			e.provisioned.Store(false)
			return
		}
		for _, key := range e.cfg.SecondaryIndexKeys {
			if err := e.store.CreateIndex(ctx, c.name, []string{key}, IndexOptions{}); err != nil {
				e.logger.Warn("secondary index creation failed",
					zap.String("collection", c.name),
					zap.String("key", key),
					zap.Error(err))
			}
		}
	}
}

// ExportLog accepts a log record. The exporter takes ownership of fields;
// identifier entries (correlationId, tenantId, nested tenant/organization,
// executionId, sessionId, component) are lifted out of it into dedicated
// record fields. The call never blocks and never panics outward; the oldest
// buffered log is dropped if the queue is full. Records exported before Start
// or after Shutdown are dropped and counted.
func (e *Exporter) ExportLog(level zapcore.Level, message string, fields *Map, logErr error) {
	defer e.recoverPanic("export log")
	if e.state.Load() != stateReady {
		e.droppedLogs.Inc()
		return
	}
	rec := e.newLogRecord(level, message, fields, logErr)
	if _, evicted := e.logs.Offer(rec); evicted {
		e.droppedLogs.Inc()
	}
	if e.logs.Len() >= e.cfg.BatchSize {
		e.triggerLogFlush()
	}
}

func (e *Exporter) newLogRecord(level zapcore.Level, message string, fields *Map, logErr error) *LogRecord {
	rec := &LogRecord{
		Timestamp: e.now(),
		Level:     level,
		Message:   message,
	}
	if fields == nil {
		fields = NewMap()
	}
	rec.CorrelationID = takeString(fields, "correlationId")
	if rec.CorrelationID == "" {
		rec.CorrelationID = uuid.NewString()
	}
	rec.Component = takeString(fields, "component")
	rec.ExecutionID = takeString(fields, "executionId")
	rec.SessionID = takeString(fields, "sessionId")
	rec.TenantID = takeString(fields, "tenantId")
	if rec.TenantID == "" {
		rec.TenantID = takeNestedID(fields, "tenant")
	}
	if rec.TenantID == "" {
		rec.TenantID = takeNestedID(fields, "organization")
	}

	md := make(map[string]string, len(e.cfg.BucketKeys))
	for _, key := range e.cfg.BucketKeys {
		switch key {
		case "level":
			md[key] = level.String()
		case "component":
			if rec.Component != "" {
				md[key] = rec.Component
			}
		case "tenantId":
			if rec.TenantID != "" {
				md[key] = rec.TenantID
			}
		default:
			if v, ok := fields.Get(key); ok {
				md[key] = v.AsString()
			}
		}
	}
	if len(md) > 0 {
		rec.Metadata = md
	}
	if fields.Len() > 0 {
		rec.Attributes = fields
	}
	if logErr != nil {
		info := &ErrorInfo{
			Name:    fmt.Sprintf("%T", logErr),
			Message: logErr.Error(),
		}
		if level >= zapcore.ErrorLevel {
			info.Stack = string(debug.Stack())
		}
		rec.Error = info
	}
	return rec
}

// takeString removes key from fields and returns its rendered value.
func takeString(fields *Map, key string) string {
	v, ok := fields.Get(key)
	if !ok {
		return ""
	}
	fields.Remove(key)
	return v.AsString()
}

// takeNestedID flattens {key: {id: ...}} or {key: {key+"Id": ...}} into a
// plain identifier.
func takeNestedID(fields *Map, key string) string {
	v, ok := fields.Get(key)
	if !ok || v.Type() != ValueTypeMap {
		return ""
	}
	nested := v.Map()
	id, ok := nested.Get("id")
	if !ok {
		id, ok = nested.Get(key + "Id")
	}
	if !ok {
		return ""
	}
	fields.Remove(key)
	return id.AsString()
}

// ExportSpan accepts an execution span, derives its duration and identifiers,
// evaluates the criticality predicate and routes the span: critical spans are
// buffered with a write-ahead log append and relocated to the dead-letter
// file on hard-cap overflow (never discarded); normal spans are buffered
// best-effort with drop-oldest semantics. The call never blocks and never
// panics outward. Spans exported before Start or after Shutdown are dropped
// and counted.
func (e *Exporter) ExportSpan(span SpanRecord) {
	defer e.recoverPanic("export span")
	if e.state.Load() != stateReady {
		e.droppedSpans.Inc()
		return
	}
	if span.CorrelationID == "" {
		if v, ok := span.Attributes.Get("correlationId"); ok {
			span.CorrelationID = v.AsString()
		} else {
			span.CorrelationID = uuid.NewString()
		}
	}
	if span.TenantID == "" {
		if v, ok := span.Attributes.Get("tenantId"); ok {
			span.TenantID = v.AsString()
		}
	}
	if span.ExecutionID == "" {
		if v, ok := span.Attributes.Get("executionId"); ok {
			span.ExecutionID = v.AsString()
		}
	}
	if span.SessionID == "" {
		if v, ok := span.Attributes.Get("sessionId"); ok {
			span.SessionID = v.AsString()
		}
	}
	if span.DurationMS == 0 && !span.StartTime.IsZero() && !span.EndTime.IsZero() {
		span.DurationMS = span.EndTime.Sub(span.StartTime).Milliseconds()
	}
	span.Critical = e.isCritical(span)

	if span.Critical {
		e.ingestCritical(&span)
	} else if _, evicted := e.normal.Offer(&span); evicted {
		e.droppedSpans.Inc()
	}
	if e.critical.Len()+e.normal.Len() >= e.cfg.BatchSize {
		e.triggerSpanFlush()
	}
}

func (e *Exporter) ingestCritical(span *SpanRecord) {
	line, err := json.Marshal(span)
	if err != nil {
		e.logger.Error("failed to serialize span for wal", zap.Error(err))
	}

	e.walMu.Lock()
	size := e.critical.Add(span)
	if err == nil {
		e.wal.Append(line)
	}
	e.walMu.Unlock()

	over := size - e.cfg.MaxCriticalBufferSize
	if over <= 0 {
		return
	}
	if over > e.cfg.DLQChunkSize {
		over = e.cfg.DLQChunkSize
	}
	chunk := e.critical.PopChunk(over)
	lines := make([][]byte, 0, len(chunk))
	for _, s := range chunk {
		line, err := json.Marshal(s)
		if err != nil {
			e.logger.Error("failed to serialize span for dlq", zap.Error(err))
			continue
		}
		lines = append(lines, line)
	}
	e.dlq.Relocate(lines)
	e.relocatedSpans.Add(int64(len(chunk)))
	e.logger.Warn("critical span buffer full, relocated oldest spans to dead-letter file",
		zap.Int("relocated", len(chunk)),
		zap.Int("buffered", e.critical.Len()))
}

// Shutdown stops the timers, forces the circuit breaker closed so one final
// attempt is made regardless of prior state, flushes all buffers within the
// configured shutdown timeout, and closes the WAL, dead-letter file and store
// connection. Anything still unflushed when the timeout elapses is reported
// as lost. Shutdown is idempotent.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateReady, stateShuttingDown) {
		switch e.state.Load() {
		case stateClosed:
			return nil
		case stateUninitialized:
			e.state.Store(stateClosed)
			return nil
		default:
			return ErrShutdown
		}
	}
	close(e.stopCh)
	e.loops.Wait()

	// One last attempt is owed to the buffers even if the circuit was open.
	e.breaker.Reset()

	fctx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- multierr.Append(e.flushLogs(fctx), e.flushSpans(fctx))
	}()
	select {
	case err := <-done:
		if err != nil {
			e.logger.Error("final flush failed", zap.Error(err))
		}
	case <-fctx.Done():
		e.logger.Error("final flush timed out, buffered telemetry lost",
			zap.Int("logs_buffered", e.logs.Len()),
			zap.Int("spans_buffered", e.normal.Len()),
			zap.Int("critical_spans_in_wal", e.critical.Len()))
	}

	var errs error
	e.wal.Sync()
	errs = multierr.Append(errs, e.wal.Close())
	errs = multierr.Append(errs, e.dlq.Close())
	errs = multierr.Append(errs, e.store.Close(ctx))
	e.state.Store(stateClosed)
	return errs
}

func (e *Exporter) recoverPanic(op string) {
	if r := recover(); r != nil {
		e.logger.Error("panic absorbed in telemetry exporter",
			zap.String("operation", op),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())))
	}
}

func (e *Exporter) requestReconnect() {
	select {
	case e.reconnectCh <- struct{}{}:
	default:
	}
}
