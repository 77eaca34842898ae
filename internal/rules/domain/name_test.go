package domain

import (
	"strings"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"ads.example.com", "ads.example.com", true},
		{"  ADS.Example.COM.  ", "ads.example.com", true},
		{"bücher.example", "xn--bcher-kva.example", true},
		{"_dmarc.example.com", "_dmarc.example.com", true},
		{"localhost", "", false},
		{"", "", false},
		{"127.0.0.1", "", false},
		{"example.com/path", "", false},
		{"*.example.com", "", false},
		{"example.com:8080", "", false},
		{"-bad.example.com", "", false},
		{"bad-.example.com", "", false},
		{"example..com", "", false},
		{"exa mple.com", "", false},
		{"example.com~third-party", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeName(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("NormalizeName(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIsValidName_Lengths(t *testing.T) {
	label63 := strings.Repeat("a", 63)
	label64 := strings.Repeat("a", 64)

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"label of 63", label63 + ".com", true},
		{"label of 64", label64 + ".com", false},
		{"253 chars", strings.Repeat(label63+".", 3) + strings.Repeat("b", 61), true},
		{"254 chars", strings.Repeat(label63+".", 3) + strings.Repeat("b", 62), false},
		{"numeric labels with alpha tld", "1.2.3.example", true},
		{"uppercase is not normalized", "Example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidName(tt.in); got != tt.want {
				t.Errorf("IsValidName(len=%d) = %v, want %v", len(tt.in), got, tt.want)
			}
		})
	}
}
