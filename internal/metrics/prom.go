package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "affsync"

// Row stages counted by Pipeline.Rows.
const (
	StageParsed     = "parsed"
	StageDropped    = "dropped"
	StageAggregated = "aggregated"
	StageUpserted   = "upserted"
	StageEnriched   = "enriched"
)

// Pipeline holds the Prometheus collectors of the ETL.
type Pipeline struct {
	Runs        *prometheus.CounterVec
	Accounts    *prometheus.CounterVec
	Rows        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	FetchTime   *prometheus.HistogramVec
	LastSuccess prometheus.Gauge
}

// NewPipeline registers the ETL collectors on reg. A nil reg leaves them
// unregistered.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"status"}),
		Accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_runs_total",
			Help:      "Per-account processing attempts by outcome.",
		}, []string{"status"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows seen per pipeline stage.",
		}, []string{"stage"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		FetchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_fetch_seconds",
			Help:      "Latency of partner report requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run with no failed account.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.Runs, p.Accounts, p.Rows, p.RunDuration, p.FetchTime, p.LastSuccess)
	}
	return p
}

func (p *Pipeline) AddRows(stage string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.Rows.WithLabelValues(stage).Add(float64(n))
}

func (p *Pipeline) AccountDone(err error) {
	if p == nil {
		return
	}
	p.Accounts.WithLabelValues(status(err)).Inc()
}

func (p *Pipeline) RunDone(started time.Time, status string) {
	if p == nil {
		return
	}
	p.Runs.WithLabelValues(status).Inc()
	p.RunDuration.Observe(time.Since(started).Seconds())
	if status == "ok" {
		p.LastSuccess.SetToCurrentTime()
	}
}

func (p *Pipeline) ObserveFetch(started time.Time, err error) {
	if p == nil {
		return
	}
	p.FetchTime.WithLabelValues(status(err)).Observe(time.Since(started).Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
