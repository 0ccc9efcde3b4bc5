package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler serves Prometheus text-exposition metrics without
// pulling in client_golang — the teacher makes the same choice (see
// DESIGN.md) and this keeps the relay's only metrics dependency the
// standard library.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			{"relay_requests_total", "Total number of inbound requests", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"relay_requests_success_total", "Total successfully completed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"relay_requests_failed_total", "Total failed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			{"relay_streams_total", "Total SSE streams opened to callers", "counter", atomic.LoadUint64(&m.metrics.StreamsTotal)},
			{"relay_streams_aborted_total", "Total streams that ended in an ERROR state", "counter", atomic.LoadUint64(&m.metrics.StreamsAborted)},

			{"relay_tool_calls_assembled_total", "Total tool calls closed successfully", "counter", atomic.LoadUint64(&m.metrics.ToolCallsAssembled)},
			{"relay_tool_calls_failed_total", "Total tool calls that failed argument validation", "counter", atomic.LoadUint64(&m.metrics.ToolCallsFailed)},

			{"relay_upstream_calls_total", "Total requests sent to the upstream", "counter", atomic.LoadUint64(&m.metrics.UpstreamCallsTotal)},
			{"relay_upstream_errors_total", "Total upstream-originated failures", "counter", atomic.LoadUint64(&m.metrics.UpstreamErrors)},
			{"relay_tokens_relayed_total", "Total tokens accounted across all responses", "counter", atomic.LoadUint64(&m.metrics.TokensRelayed)},

			{"relay_active_requests", "Requests currently in flight", "gauge", atomic.LoadInt64(&m.metrics.ActiveRequests)},
			{"relay_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			{"relay_memory_alloc_bytes", "Current heap allocation in bytes", "gauge", memStats.Alloc},
			{"relay_goroutines", "Number of live goroutines", "gauge", runtime.NumGoroutine()},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP relay_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE relay_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "relay_request_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
