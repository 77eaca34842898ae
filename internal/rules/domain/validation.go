package domain

// ResultSource records which layer produced a ValidationResult.
type ResultSource string

const (
	SourceWhitelist ResultSource = "whitelist"
	SourceCache     ResultSource = "cache"
	SourceResolver  ResultSource = "resolver"
)

// Outcome is the three-way verdict used for statistics.
type Outcome string

const (
	OutcomeValid   Outcome = "valid"
	OutcomeInvalid Outcome = "invalid" // at least one endpoint answered definitively with no address
	OutcomeErrored Outcome = "errored" // no endpoint produced a definitive answer
)

// ValidationResult is the verdict for one domain within a run.
type ValidationResult struct {
	Domain      string
	Valid       bool
	ConfirmedBy string // endpoint label that resolved the domain, if any
	Source      ResultSource
	Outcome     Outcome
}

// WhitelistedResult is the verdict for a domain short-circuited by the whitelist.
func WhitelistedResult(name string) ValidationResult {
	return ValidationResult{Domain: name, Valid: true, Source: SourceWhitelist, Outcome: OutcomeValid}
}

// FromCache returns a copy of r attributed to the cache.
func (r ValidationResult) FromCache() ValidationResult {
	r.Source = SourceCache
	return r
}
