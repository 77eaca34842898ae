package verdictcache

import (
	"strconv"
	"testing"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// Benchmark cache hit performance (Get on existing key).
func BenchmarkCache_Hit(b *testing.B) {
	c, err := New(1024)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	key := "example.com"
	c.Put(key, domain.ValidationResult{Domain: key, Valid: true, Outcome: domain.OutcomeValid})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := c.Get(key); !ok {
			b.Fatalf("unexpected miss for key %q", key)
		}
	}
}

// Benchmark Put of distinct keys, including growth from a small initial size.
func BenchmarkCache_PutGrowing(b *testing.B) {
	keys := make([]string, 4096)
	for i := range keys {
		keys[i] = "host" + strconv.Itoa(i) + ".example.com"
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := New(16)
		if err != nil {
			b.Fatalf("New: %v", err)
		}
		for _, k := range keys {
			c.Put(k, domain.ValidationResult{Domain: k, Outcome: domain.OutcomeInvalid})
		}
	}
}
