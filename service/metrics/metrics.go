package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Indexer API Metrics
	indexerCallsTotal       *prometheus.CounterVec
	indexerCallDuration     *prometheus.HistogramVec
	indexerRateLimitHits    *prometheus.CounterVec
	indexerTransactionsPage *prometheus.HistogramVec

	// Sync Metrics
	transactionsFetchedTotal *prometheus.CounterVec
	transactionsMergedTotal  *prometheus.CounterVec
	transactionsSkippedTotal *prometheus.CounterVec
	syncRunsTotal            *prometheus.CounterVec
	syncDuration             *prometheus.HistogramVec
	ledgerSize               *prometheus.GaugeVec

	// Classification Metrics
	transactionsClassifiedTotal *prometheus.CounterVec

	// Balance Reconstruction Metrics
	balanceReconstructions *prometheus.HistogramVec

	// Workflow Metrics
	syncWorkflowDuration        *prometheus.HistogramVec
	syncWorkflowExecutionsTotal *prometheus.CounterVec
	syncActivityDuration        *prometheus.HistogramVec

	// Storage Metrics
	storageOpDuration *prometheus.HistogramVec
	storageOpsTotal   *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Indexer API Metrics
		indexerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_calls_total",
				Help: "Total number of indexer API calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		indexerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_call_duration_seconds",
				Help:    "Duration of indexer API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		indexerRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_rate_limit_hits_total",
				Help: "Total number of indexer rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		indexerTransactionsPage: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_transactions_per_page",
				Help:    "Number of transactions returned per indexer page",
				Buckets: []float64{1, 10, 25, 50, 75, 100},
			},
			[]string{"endpoint"},
		),

		// Sync Metrics
		transactionsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Total number of transactions fetched from the indexer",
			},
			[]string{"wallet_address", "mode"},
		),
		transactionsMergedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_merged_total",
				Help: "Total number of new transactions merged into the ledger",
			},
			[]string{"wallet_address"},
		),
		transactionsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_skipped_total",
				Help: "Total number of transactions skipped",
			},
			[]string{"wallet_address", "reason"},
		),
		syncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_runs_total",
				Help: "Total number of sync runs by mode and outcome",
			},
			[]string{"wallet_address", "mode", "status"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_duration_seconds",
				Help:    "Duration of ledger sync runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"wallet_address", "mode"},
		),
		ledgerSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_transactions",
				Help: "Number of transactions currently held in the ledger",
			},
			[]string{"wallet_address"},
		),

		// Classification Metrics
		transactionsClassifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_classified_total",
				Help: "Total number of transactions classified by kind",
			},
			[]string{"wallet_address", "kind"},
		),

		// Balance Reconstruction Metrics
		balanceReconstructions: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balance_reconstruction_duration_seconds",
				Help:    "Duration of point-in-time balance reconstructions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"wallet_address"},
		),

		// Workflow Metrics
		syncWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_workflow_duration_seconds",
				Help:    "Duration of sync workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"wallet_address", "status"},
		),
		syncWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_workflow_executions_total",
				Help: "Total number of sync workflow executions",
			},
			[]string{"wallet_address", "status"},
		),
		syncActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_activity_duration_seconds",
				Help:    "Duration of sync workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "wallet_address"},
		),

		// Storage Metrics
		storageOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_op_duration_seconds",
				Help:    "Duration of ledger storage operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		storageOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_ops_total",
				Help: "Total number of ledger storage operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"wallet_address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"wallet_address", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Indexer API metric helpers

// RecordIndexerCall records an indexer API call with duration.
func (m *Metrics) RecordIndexerCall(method, status, endpoint string, duration float64) {
	m.indexerCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.indexerCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.indexerRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordTransactionsPerPage records the size of a fetched page.
func (m *Metrics) RecordTransactionsPerPage(endpoint string, count float64) {
	m.indexerTransactionsPage.WithLabelValues(endpoint).Observe(count)
}

// Sync metric helpers

// RecordTransactionsFetched records transactions fetched from the indexer.
func (m *Metrics) RecordTransactionsFetched(walletAddress, mode string, count int) {
	m.transactionsFetchedTotal.WithLabelValues(walletAddress, mode).Add(float64(count))
}

// RecordTransactionsMerged records new transactions merged into the ledger.
func (m *Metrics) RecordTransactionsMerged(walletAddress string, count int) {
	m.transactionsMergedTotal.WithLabelValues(walletAddress).Add(float64(count))
}

// RecordTransactionsSkipped records transactions skipped.
func (m *Metrics) RecordTransactionsSkipped(walletAddress, reason string, count int) {
	m.transactionsSkippedTotal.WithLabelValues(walletAddress, reason).Add(float64(count))
}

// RecordSyncRun records the outcome and duration of a sync run.
func (m *Metrics) RecordSyncRun(walletAddress, mode, status string, duration float64) {
	m.syncRunsTotal.WithLabelValues(walletAddress, mode, status).Inc()
	m.syncDuration.WithLabelValues(walletAddress, mode).Observe(duration)
}

// RecordLedgerSize records the current ledger transaction count.
func (m *Metrics) RecordLedgerSize(walletAddress string, count int) {
	m.ledgerSize.WithLabelValues(walletAddress).Set(float64(count))
}

// Classification metric helpers

// RecordTransactionClassified records a classified transaction by kind.
func (m *Metrics) RecordTransactionClassified(walletAddress, kind string) {
	m.transactionsClassifiedTotal.WithLabelValues(walletAddress, kind).Inc()
}

// Balance reconstruction metric helpers

// RecordBalanceReconstruction records a point-in-time balance query.
func (m *Metrics) RecordBalanceReconstruction(walletAddress string, duration float64) {
	m.balanceReconstructions.WithLabelValues(walletAddress).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(walletAddress, status string, duration float64) {
	m.syncWorkflowDuration.WithLabelValues(walletAddress, status).Observe(duration)
	m.syncWorkflowExecutionsTotal.WithLabelValues(walletAddress, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, walletAddress string, duration float64) {
	m.syncActivityDuration.WithLabelValues(activity, walletAddress).Observe(duration)
}

// Storage metric helpers

// RecordStorageOp records a ledger storage operation with duration.
func (m *Metrics) RecordStorageOp(operation string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storageOpDuration.WithLabelValues(operation).Observe(duration)
	m.storageOpsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(walletAddress string, delta float64) {
	m.sseActiveConnections.WithLabelValues(walletAddress).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(walletAddress, eventType string) {
	m.sseEventsSent.WithLabelValues(walletAddress, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
