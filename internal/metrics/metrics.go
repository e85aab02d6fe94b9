package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the settlement pipeline
var (
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_webhooks_received_total",
			Help: "Total number of provider notifications received, by HTTP method",
		},
		[]string{"method"},
	)

	PipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_pipeline_outcomes_total",
			Help: "Total number of pipeline runs, by outcome",
		},
		[]string{"outcome"},
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_applied_total",
			Help: "Total number of settlements applied, by path",
		},
		[]string{"path"},
	)

	AnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_anomalies_total",
			Help: "Total number of reconciliation anomalies, by kind",
		},
		[]string{"kind"},
	)

	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_pipeline_duration_seconds",
			Help:    "Duration of a full pipeline run",
			Buckets: prometheus.DefBuckets,
		},
	)

	PipelinesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_pipelines_in_flight",
			Help: "Number of pipelines currently running",
		},
	)

	DeliveriesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_deliveries_dropped_total",
			Help: "Total number of deliveries dropped because the pipeline backlog was full",
		},
	)

	ReservationsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_reservations_expired_total",
			Help: "Total number of reservations moved to expired by the sweeper",
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(WebhooksReceivedTotal)
	prometheus.MustRegister(PipelineOutcomesTotal)
	prometheus.MustRegister(SettlementsTotal)
	prometheus.MustRegister(AnomaliesTotal)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(PipelinesInFlight)
	prometheus.MustRegister(DeliveriesDroppedTotal)
	prometheus.MustRegister(ReservationsExpiredTotal)
}
