package metrics

import (
	"strings"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
	"github.com/haukened/rr-rulecheck/internal/rules/gateways/upstream"
)

// Metrics holds the Prometheus metrics of a run. Nothing is served over HTTP:
// Publish writes the registry to a node_exporter textfile.
type Metrics struct {
	// Resolver metrics
	queriesTotal *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec

	// Rule metrics
	rulesTotal   *prometheus.GaugeVec
	dialectRules *prometheus.GaugeVec

	// Run metrics
	filesTotal    *prometheus.GaugeVec
	runDuration   prometheus.Gauge
	lastRunUnix   prometheus.Gauge
	whitelistSize prometheus.Gauge

	// Verdict cache metrics
	cacheEntries prometheus.Gauge
	cacheLookups *prometheus.GaugeVec

	registry *prometheus.Registry
	path     string
}

// NewMetrics creates a Metrics instance that publishes to path.
func NewMetrics(path string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rulecheck_dns_queries_total",
				Help: "DNS query attempts by endpoint, record type and outcome",
			},
			[]string{"endpoint", "group", "qtype", "outcome"},
		),

		queryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rulecheck_dns_query_duration_seconds",
				Help:    "Round-trip time of answered DNS queries",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"endpoint"},
		),

		rulesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rulecheck_rules",
				Help: "Domain rules of the last run by verdict",
			},
			[]string{"verdict"},
		),

		dialectRules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rulecheck_dialect_rules",
				Help: "Domain rules of the last run by dialect",
			},
			[]string{"dialect"},
		),

		filesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rulecheck_files",
				Help: "Files of the last run by status",
			},
			[]string{"status"},
		),

		runDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rulecheck_run_duration_seconds",
				Help: "Wall time of the last run",
			},
		),

		lastRunUnix: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rulecheck_last_run_timestamp_seconds",
				Help: "Start time of the last run",
			},
		),

		whitelistSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rulecheck_whitelist_domains",
				Help: "Distinct whitelisted domains of the last run",
			},
		),

		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rulecheck_verdict_cache_entries",
				Help: "Domains resolved and cached during the last run",
			},
		),

		cacheLookups: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rulecheck_verdict_cache_lookups",
				Help: "Verdict cache lookups of the last run by result",
			},
			[]string{"result"},
		),

		registry: registry,
		path:     path,
	}

	registry.MustRegister(
		m.queriesTotal,
		m.queryLatency,
		m.rulesTotal,
		m.dialectRules,
		m.filesTotal,
		m.runDuration,
		m.lastRunUnix,
		m.whitelistSize,
		m.cacheEntries,
		m.cacheLookups,
	)
	return m
}

// ObserveQuery records one resolver query attempt.
func (m *Metrics) ObserveQuery(ev upstream.QueryEvent) {
	qtype := strings.ToLower(dns.TypeToString[ev.Qtype])
	m.queriesTotal.WithLabelValues(ev.Endpoint, string(ev.Group), qtype, string(ev.Outcome)).Inc()
	if ev.Outcome != upstream.QueryTimeout && ev.Outcome != upstream.QueryError && ev.RTT > 0 {
		m.queryLatency.WithLabelValues(ev.Endpoint).Observe(ev.RTT.Seconds())
	}
}

// Record sets the run gauges from a finished report.
func (m *Metrics) Record(r domain.Report) {
	t := r.Totals
	m.rulesTotal.WithLabelValues("kept").Set(float64(t.Valid))
	m.rulesTotal.WithLabelValues("removed").Set(float64(t.Removed()))
	m.rulesTotal.WithLabelValues("errored").Set(float64(t.Errored))
	m.rulesTotal.WithLabelValues("whitelisted").Set(float64(t.Whitelisted))
	m.rulesTotal.WithLabelValues("exception").Set(float64(t.Exceptions))

	m.dialectRules.Reset()
	for d, n := range t.Dialects {
		m.dialectRules.WithLabelValues(d).Set(float64(n))
	}

	m.filesTotal.WithLabelValues("succeeded").Set(float64(r.Succeeded))
	m.filesTotal.WithLabelValues("failed").Set(float64(r.Failed))
	m.runDuration.Set(r.Elapsed.Seconds())
	m.lastRunUnix.Set(float64(r.StartedAt.Unix()))
	m.whitelistSize.Set(float64(r.WhitelistSize))

	m.cacheEntries.Set(float64(r.Cache.Entries))
	m.cacheLookups.WithLabelValues("hit").Set(float64(r.Cache.Hits))
	m.cacheLookups.WithLabelValues("miss").Set(float64(r.Cache.Misses))
}

// Name identifies the metrics as a report sink.
func (m *Metrics) Name() string { return "metrics" }

// Publish records r and writes every metric to the textfile.
func (m *Metrics) Publish(r domain.Report) error {
	m.Record(r)
	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		return domain.NewFileError("write", m.path, err)
	}
	return nil
}

var _ upstream.QueryObserver = (*Metrics)(nil)
