package telemex // import "github.com/durastream/telemex"

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Alert thresholds for critical buffer occupancy.
const (
	warnOccupancyPct  = 80.0
	alarmOccupancyPct = 95.0
	failureAlertCount = 3
)

// HealthStatus is a point-in-time self-check snapshot. Purely observational:
// the exporter takes no corrective action beyond what its flush, breaker and
// durability machinery already do.
type HealthStatus struct {
	Healthy             bool
	CircuitState        string
	ConsecutiveFailures int
	LogBufferPct        float64
	SpanBufferPct       float64
	CriticalBufferPct   float64
	Alerts              []string
}

// Metrics is a queryable counter snapshot for external monitoring.
type Metrics struct {
	LogsBuffered              int
	SpansBuffered             int
	CriticalTelemetryBuffered int
	CircuitState              string
	ConsecutiveFailures       int
	ExportedLogs              int64
	ExportedSpans             int64
	DroppedLogs               int64
	DroppedSpans              int64
	RelocatedSpans            int64
	FailedFlushes             int64
	WALWritesDropped          int64
	DLQRecordsLost            int64
}

// HealthStatus computes the current health snapshot.
func (e *Exporter) HealthStatus() HealthStatus {
	hs := HealthStatus{
		CircuitState:        e.breaker.State().String(),
		ConsecutiveFailures: e.breaker.FailureCount(),
		LogBufferPct:        occupancyPct(e.logs.Len(), e.logs.Capacity()),
		SpanBufferPct:       occupancyPct(e.normal.Len(), e.normal.Capacity()),
		CriticalBufferPct:   occupancyPct(e.critical.Len(), e.critical.Capacity()),
	}
	if hs.CircuitState == "open" {
		hs.Alerts = append(hs.Alerts, "circuit breaker open, normal-priority export suspended")
	}
	switch {
	case hs.CriticalBufferPct >= alarmOccupancyPct:
		hs.Alerts = append(hs.Alerts, fmt.Sprintf("critical span buffer at %.0f%% of capacity", hs.CriticalBufferPct))
	case hs.CriticalBufferPct >= warnOccupancyPct:
		hs.Alerts = append(hs.Alerts, fmt.Sprintf("critical span buffer at %.0f%% of capacity", hs.CriticalBufferPct))
	}
	if hs.ConsecutiveFailures >= failureAlertCount {
		hs.Alerts = append(hs.Alerts, fmt.Sprintf("%d consecutive flush failures", hs.ConsecutiveFailures))
	}
	hs.Healthy = len(hs.Alerts) == 0
	return hs
}

// Metrics returns the current counter snapshot.
func (e *Exporter) Metrics() Metrics {
	m := Metrics{
		LogsBuffered:              e.logs.Len(),
		SpansBuffered:             e.normal.Len(),
		CriticalTelemetryBuffered: e.critical.Len(),
		CircuitState:              e.breaker.State().String(),
		ConsecutiveFailures:       e.breaker.FailureCount(),
		ExportedLogs:              e.exportedLogs.Load(),
		ExportedSpans:             e.exportedSpans.Load(),
		DroppedLogs:               e.droppedLogs.Load(),
		DroppedSpans:              e.droppedSpans.Load(),
		RelocatedSpans:            e.relocatedSpans.Load(),
		FailedFlushes:             e.failedFlushes.Load(),
	}
	if e.wal != nil {
		m.WALWritesDropped = e.wal.Dropped()
	}
	if e.dlq != nil {
		m.DLQRecordsLost = e.dlq.Lost()
	}
	return m
}

func (e *Exporter) healthLoop() {
	defer e.loops.Done()
	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hs := e.HealthStatus()
			for _, alert := range hs.Alerts {
				e.logger.Warn("telemetry export health alert",
					zap.String("alert", alert),
					zap.String("circuit_state", hs.CircuitState),
					zap.Float64("critical_buffer_pct", hs.CriticalBufferPct))
			}
		case <-e.stopCh:
			return
		}
	}
}

func occupancyPct(n, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return 100 * float64(n) / float64(capacity)
}
