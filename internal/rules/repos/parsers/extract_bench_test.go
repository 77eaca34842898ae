package parsers

import "testing"

func BenchmarkExtract(b *testing.B) {
	lines := []string{
		"||ads.example.com^$third-party\n",
		"@@||cdn.example.org^\n",
		"0.0.0.0 tracker.example.net # telemetry\n",
		"DOMAIN-SUFFIX,metrics.example.com,REJECT\n",
		"example.com##.ad-banner\n",
		"! comment\n",
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Extract(lines[i%len(lines)])
	}
}
