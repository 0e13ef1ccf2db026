package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct is passed
// to every component that records metrics; a nil *Metrics disables recording.
type Metrics struct {
	// Solana RPC metrics
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec
	rpcRetries      *prometheus.CounterVec

	// Ingestion pipeline metrics
	transfersParsedTotal  *prometheus.CounterVec
	transfersWrittenTotal *prometheus.CounterVec
	transfersSkippedTotal *prometheus.CounterVec

	// Poller metrics
	pollCycleDuration *prometheus.HistogramVec
	pollCyclesTotal   *prometheus.CounterVec
	pollTicksSkipped  prometheus.Counter

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// Event publishing metrics
	eventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		rpcRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		transfersParsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_parsed_total",
				Help: "Total number of raw transactions run through the parser",
			},
			[]string{"status"},
		),
		transfersWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_written_total",
				Help: "Total number of transfer records written to the database",
			},
			[]string{"address"},
		),
		transfersSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_skipped_total",
				Help: "Total number of records dropped from the pipeline",
			},
			[]string{"reason"},
		),

		pollCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_cycle_duration_seconds",
				Help:    "Duration of one fetch-parse-validate-persist cycle",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		pollCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_cycles_total",
				Help: "Total number of poll cycles by outcome",
			},
			[]string{"status"},
		),
		pollTicksSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poll_ticks_skipped_total",
				Help: "Ticks dropped because the previous cycle was still running",
			},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_events_published_total",
				Help: "Total number of transfer events published to NATS",
			},
			[]string{"subject", "status"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records an RPC retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

// RecordTransferParsed records a parser outcome ("parsed" or "skipped").
func (m *Metrics) RecordTransferParsed(status string) {
	m.transfersParsedTotal.WithLabelValues(status).Inc()
}

// RecordTransferWritten records a record newly written to the database.
func (m *Metrics) RecordTransferWritten(address string) {
	m.transfersWrittenTotal.WithLabelValues(address).Inc()
}

// RecordTransferSkipped records a record dropped from the pipeline.
// Reasons: "fetch_error", "absent", "unparseable", "invalid", "duplicate",
// "storage_error".
func (m *Metrics) RecordTransferSkipped(reason string) {
	m.transfersSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordPollCycle records a completed poll cycle with its outcome.
func (m *Metrics) RecordPollCycle(status string, duration float64) {
	m.pollCyclesTotal.WithLabelValues(status).Inc()
	m.pollCycleDuration.WithLabelValues(status).Observe(duration)
}

// RecordPollTickSkipped records a tick dropped by the single-flight guard.
func (m *Metrics) RecordPollTickSkipped() {
	m.pollTicksSkipped.Inc()
}

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	m.httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
}

// RecordEventPublished records a NATS publish attempt.
func (m *Metrics) RecordEventPublished(subject, status string) {
	m.eventsPublished.WithLabelValues(subject, status).Inc()
}
