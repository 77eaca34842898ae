package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
	"github.com/haukened/rr-rulecheck/internal/rules/gateways/upstream"
)

func TestObserveQuery(t *testing.T) {
	m := NewMetrics(filepath.Join(t.TempDir(), "rulecheck.prom"))

	m.ObserveQuery(upstream.QueryEvent{Endpoint: "d1", Group: domain.GroupDomestic, Qtype: dns.TypeA, Outcome: upstream.QueryAnswered, RTT: 20 * time.Millisecond})
	m.ObserveQuery(upstream.QueryEvent{Endpoint: "d1", Group: domain.GroupDomestic, Qtype: dns.TypeA, Outcome: upstream.QueryAnswered, RTT: 30 * time.Millisecond})
	m.ObserveQuery(upstream.QueryEvent{Endpoint: "f1", Group: domain.GroupForeign, Qtype: dns.TypeAAAA, Outcome: upstream.QueryTimeout})

	assert.Equal(t, 2.0, gather(t, m, "rulecheck_dns_queries_total", map[string]string{"endpoint": "d1", "qtype": "a", "outcome": "answered"}))
	assert.Equal(t, 1.0, gather(t, m, "rulecheck_dns_queries_total", map[string]string{"endpoint": "f1", "group": "foreign", "qtype": "aaaa", "outcome": "timeout"}))
	assert.Equal(t, 2.0, gather(t, m, "rulecheck_dns_query_duration_seconds", map[string]string{"endpoint": "d1"}))
	assert.Equal(t, 0.0, gather(t, m, "rulecheck_dns_query_duration_seconds", map[string]string{"endpoint": "f1"}))
}

func TestPublish_WritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulecheck.prom")
	m := NewMetrics(path)
	assert.Equal(t, "metrics", m.Name())

	r := domain.Report{
		StartedAt:     time.Unix(1700000000, 0),
		Elapsed:       2 * time.Second,
		WhitelistSize: 7,
		Totals:        domain.FileStats{Valid: 10, Invalid: 3, Errored: 1, Dialects: map[string]int{"adblock": 13}},
		Cache:         domain.CacheStats{Entries: 11, Hits: 2, Misses: 11},
		Succeeded:     2,
		Failed:        1,
	}
	require.NoError(t, m.Publish(r))

	assert.Equal(t, 10.0, gather(t, m, "rulecheck_rules", map[string]string{"verdict": "kept"}))
	assert.Equal(t, 3.0, gather(t, m, "rulecheck_rules", map[string]string{"verdict": "removed"}))
	assert.Equal(t, 13.0, gather(t, m, "rulecheck_dialect_rules", map[string]string{"dialect": "adblock"}))
	assert.Equal(t, 1.0, gather(t, m, "rulecheck_files", map[string]string{"status": "failed"}))
	assert.Equal(t, 11.0, gather(t, m, "rulecheck_verdict_cache_entries", nil))
	assert.Equal(t, 2.0, gather(t, m, "rulecheck_verdict_cache_lookups", map[string]string{"result": "hit"}))
	assert.Equal(t, 11.0, gather(t, m, "rulecheck_verdict_cache_lookups", map[string]string{"result": "miss"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "rulecheck_rules{verdict=\"kept\"} 10")
	assert.Contains(t, out, "rulecheck_whitelist_domains 7")
	assert.Contains(t, out, "rulecheck_run_duration_seconds 2")
}

func TestPublish_UnwritablePath(t *testing.T) {
	m := NewMetrics(filepath.Join(t.TempDir(), "missing", "rulecheck.prom"))
	err := m.Publish(domain.Report{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrFileIO))
}

// gather returns the value of the first sample of name whose labels include
// want. Histograms report their sample count. Missing samples read as zero.
func gather(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := m.registry.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			got := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue next
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}
