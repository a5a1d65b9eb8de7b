package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	// OutcomeSuccess labels successful action runs.
	OutcomeSuccess = "success"
	// OutcomeError labels failed action runs (backend or transport issues).
	OutcomeError = "error"
)

var (
	reportsParsedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "report_viewer",
			Name:      "reports_parsed_total",
			Help:      "Total number of raw diagnostic reports parsed.",
		},
	)

	reportRowsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "report_viewer",
			Name:      "report_rows_skipped_total",
			Help:      "Table rows dropped by the parser because they were malformed.",
		},
	)

	reportAnomalies = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "report_viewer",
			Name:      "report_anomalies",
			Help:      "Number of anomalies extracted per parsed report.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	actionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "report_viewer",
			Name:      "action_runs_total",
			Help:      "Total number of remediation action runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	actionRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "report_viewer",
			Name:      "action_run_seconds",
			Help:      "Remediation action latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	actionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "report_viewer",
			Name:      "actions_in_flight",
			Help:      "Remediation action runs currently awaiting the backend.",
		},
	)
)

// Register attaches report-viewer collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		reportsParsedTotal,
		reportRowsSkippedTotal,
		reportAnomalies,
		actionRunsTotal,
		actionRunDurationSeconds,
		actionsInFlight,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveParse records one parse and how many rows it skipped.
func ObserveParse(anomalies, skippedRows int) {
	reportsParsedTotal.Inc()
	reportAnomalies.Observe(float64(anomalies))
	if skippedRows > 0 {
		reportRowsSkippedTotal.Add(float64(skippedRows))
	}
}

// ActionStarted marks a remediation run as in flight. Callers defer ActionFinished.
func ActionStarted() {
	actionsInFlight.Inc()
}

// ActionFinished clears a run from in-flight.
func ActionFinished() {
	actionsInFlight.Dec()
}

// ActionsInFlight reports the current in-flight gauge value.
func ActionsInFlight() float64 {
	var m dto.Metric
	if err := actionsInFlight.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// ObserveAction records a finished run's duration and outcome label.
func ObserveAction(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	actionRunsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	actionRunDurationSeconds.Observe(duration.Seconds())
}
