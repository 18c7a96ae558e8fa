package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsInFlight — текущая глубина Request Registry.
	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "automata_executor_requests_in_flight",
			Help: "Number of requests currently tracked by the Request Registry",
		},
	)

	// WorkersKnown — число воркеров, известных Worker Finder на момент
	// последней NOTIFY-пробы или последнего NOTIFY_RESPONSE.
	WorkersKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "automata_executor_workers_known",
			Help: "Number of workers currently known to the Worker Finder",
		},
	)

	// RequestsFinalizedTotal — число запросов, достигших терминального
	// исхода, по task_name и исходу (success, failure, timeout, publish_error).
	RequestsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automata_executor_requests_finalized_total",
			Help: "Total number of requests reaching a terminal outcome, by task name and outcome",
		},
		[]string{"task_name", "outcome"},
	)

	// PublishRetriesTotal — число попыток retry при публикации REQUEST/NOTIFY.
	PublishRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automata_executor_publish_retries_total",
			Help: "Total number of publish retry attempts, by message type",
		},
		[]string{"message_type"},
	)

	// RequestLifetime — время от создания запроса до терминального исхода.
	RequestLifetime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "automata_executor_request_lifetime_seconds",
			Help:    "Time from request creation to terminal outcome, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsInFlight)
	prometheus.MustRegister(WorkersKnown)
	prometheus.MustRegister(RequestsFinalizedTotal)
	prometheus.MustRegister(PublishRetriesTotal)
	prometheus.MustRegister(RequestLifetime)
}

// Handler возвращает HTTP handler для /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
