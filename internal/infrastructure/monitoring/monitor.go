package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics is the relay's counter set, read with atomic loads so /metrics can
// be scraped concurrently with request handling.
type Metrics struct {
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	StreamsTotal       uint64
	StreamsAborted     uint64
	ToolCallsAssembled uint64
	ToolCallsFailed    uint64

	UpstreamCallsTotal uint64
	UpstreamErrors     uint64
	TokensRelayed      uint64

	RequestLatencySum   uint64
	RequestLatencyCount uint64

	ActiveRequests int64

	StartTime time.Time
}

// Monitor collects relay metrics, generalized from the teacher's agent-loop
// Monitor: same atomic counters and PrometheusHandler, retargeted at
// request/stream/tool-call/upstream events instead of agent steps.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor creates a monitor with its start time pinned to now.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{StartTime: time.Now()},
		logger:  logger,
	}
}

func (m *Monitor) IncRequestTotal()       { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess()     { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()      { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncStreamTotal()        { atomic.AddUint64(&m.metrics.StreamsTotal, 1) }
func (m *Monitor) IncStreamAborted()      { atomic.AddUint64(&m.metrics.StreamsAborted, 1) }
func (m *Monitor) IncToolCallAssembled()  { atomic.AddUint64(&m.metrics.ToolCallsAssembled, 1) }
func (m *Monitor) IncToolCallFailed()     { atomic.AddUint64(&m.metrics.ToolCallsFailed, 1) }
func (m *Monitor) IncUpstreamCall()       { atomic.AddUint64(&m.metrics.UpstreamCallsTotal, 1) }
func (m *Monitor) IncUpstreamError()      { atomic.AddUint64(&m.metrics.UpstreamErrors, 1) }

func (m *Monitor) AddTokensRelayed(n int) {
	atomic.AddUint64(&m.metrics.TokensRelayed, uint64(n))
}

func (m *Monitor) SetActiveRequests(n int64) {
	atomic.StoreInt64(&m.metrics.ActiveRequests, n)
}

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// GetStats returns a flat snapshot suitable for a JSON health/debug endpoint.
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
	}

	return map[string]interface{}{
		"uptime_seconds":       uptime.Seconds(),
		"requests_total":       reqTotal,
		"requests_success":     atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&m.metrics.RequestsFailed),
		"streams_total":        atomic.LoadUint64(&m.metrics.StreamsTotal),
		"streams_aborted":      atomic.LoadUint64(&m.metrics.StreamsAborted),
		"tool_calls_assembled": atomic.LoadUint64(&m.metrics.ToolCallsAssembled),
		"tool_calls_failed":    atomic.LoadUint64(&m.metrics.ToolCallsFailed),
		"upstream_calls_total": atomic.LoadUint64(&m.metrics.UpstreamCallsTotal),
		"upstream_errors":      atomic.LoadUint64(&m.metrics.UpstreamErrors),
		"tokens_relayed":       atomic.LoadUint64(&m.metrics.TokensRelayed),
		"active_requests":      atomic.LoadInt64(&m.metrics.ActiveRequests),
		"avg_latency_ms":       avgLatency,
		"memory_mb":            float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":           runtime.NumGoroutine(),
		"rps":                  float64(reqTotal) / uptime.Seconds(),
	}
}
