package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RoundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segutil_rounds_total",
		Help: "Total number of completed sampling rounds",
	})

	CommandFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segutil_command_failures_total",
		Help: "Total number of failed external command invocations",
	}, []string{"command"})

	RowsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segutil_rows_written_total",
		Help: "Total number of segment rows persisted",
	})

	Segments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "segutil_segments",
		Help: "Number of segments sampled in the last round",
	})

	LiveBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "segutil_live_blocks",
		Help: "Live blocks over all segments sampled in the last round",
	})

	UtilizationMean = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "segutil_utilization_mean",
		Help: "Mean segment utilization of the last round",
	})

	RoundSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "segutil_round_seconds",
		Help:    "Duration of a sampling round excluding the interval sleep",
		Buckets: prometheus.DefBuckets,
	})
)
