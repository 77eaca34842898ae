package domain

import (
	"time"
)

// FileStats summarizes one File Processor run. Counts of domain rules are per line;
// Errored is the subset of Invalid for which no endpoint gave a definitive answer.
type FileStats struct {
	Input           string         `json:"input" yaml:"input"`
	Output          string         `json:"output" yaml:"output"`
	TotalLines      int            `json:"total_lines" yaml:"total_lines"`
	CommentLines    int            `json:"comment_lines" yaml:"comment_lines"`
	StructuralLines int            `json:"structural_lines" yaml:"structural_lines"`
	DomainRules     int            `json:"domain_rules" yaml:"domain_rules"`
	Exceptions      int            `json:"exceptions" yaml:"exceptions"`
	DistinctDomains int            `json:"distinct_domains" yaml:"distinct_domains"`
	Duplicates      int            `json:"duplicates" yaml:"duplicates"`
	Valid           int            `json:"valid" yaml:"valid"`
	Invalid         int            `json:"invalid" yaml:"invalid"`
	Errored         int            `json:"errored" yaml:"errored"`
	Whitelisted     int            `json:"whitelisted" yaml:"whitelisted"`
	CacheHits       int            `json:"cache_hits" yaml:"cache_hits"`
	InvalidApexes   int            `json:"invalid_apexes" yaml:"invalid_apexes"`
	Dialects        map[string]int `json:"dialects,omitempty" yaml:"dialects,omitempty"`
	Elapsed         time.Duration  `json:"elapsed_ns" yaml:"elapsed"`
}

// Add accumulates o into s. Input, Output and Elapsed are left alone.
func (s *FileStats) Add(o FileStats) {
	s.TotalLines += o.TotalLines
	s.CommentLines += o.CommentLines
	s.StructuralLines += o.StructuralLines
	s.DomainRules += o.DomainRules
	s.Exceptions += o.Exceptions
	s.DistinctDomains += o.DistinctDomains
	s.Duplicates += o.Duplicates
	s.Valid += o.Valid
	s.Invalid += o.Invalid
	s.Errored += o.Errored
	s.Whitelisted += o.Whitelisted
	s.CacheHits += o.CacheHits
	s.InvalidApexes += o.InvalidApexes
	for k, v := range o.Dialects {
		if s.Dialects == nil {
			s.Dialects = make(map[string]int)
		}
		s.Dialects[k] += v
	}
}

// Removed is the number of domain rules dropped from the output.
func (s FileStats) Removed() int { return s.Invalid }

// FileReport is the per-file entry of a Report.
type FileReport struct {
	Stats FileStats `json:"stats" yaml:"stats"`
	Error string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the file could not be processed.
func (f FileReport) Failed() bool { return f.Error != "" }

// CacheStats summarizes verdict cache use over a run.
type CacheStats struct {
	Entries int    `json:"entries" yaml:"entries"`
	Hits    uint64 `json:"hits" yaml:"hits"`
	Misses  uint64 `json:"misses" yaml:"misses"`
}

// Report aggregates a whole run. It carries counts only.
type Report struct {
	RunID         string        `json:"run_id" yaml:"run_id"`
	StartedAt     time.Time     `json:"started_at" yaml:"started_at"`
	Elapsed       time.Duration `json:"elapsed_ns" yaml:"elapsed"`
	WhitelistSize int           `json:"whitelist_size" yaml:"whitelist_size"`
	Endpoints     int           `json:"endpoints" yaml:"endpoints"`
	Files         []FileReport  `json:"files" yaml:"files"`
	Totals        FileStats     `json:"totals" yaml:"totals"`
	Cache         CacheStats    `json:"cache" yaml:"cache"`
	Succeeded     int           `json:"succeeded" yaml:"succeeded"`
	Failed        int           `json:"failed" yaml:"failed"`
}

// TotalFailure reports whether every file of a non-empty run failed.
func (r Report) TotalFailure() bool {
	return len(r.Files) > 0 && r.Succeeded == 0
}
