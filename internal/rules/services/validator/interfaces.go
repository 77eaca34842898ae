package validator

import (
	"context"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// Resolver decides a domain over the network. Implementations absorb
// resolution errors into the result.
type Resolver interface {
	Resolve(ctx context.Context, name string) domain.ValidationResult
}

// Whitelist is a read-only set of domains that are valid without a query.
type Whitelist interface {
	Contains(name string) bool
}

// VerdictCache stores results for the lifetime of a run and never evicts.
// Peek is a lookup that is not counted in the cache statistics.
type VerdictCache interface {
	Get(name string) (domain.ValidationResult, bool)
	Peek(name string) (domain.ValidationResult, bool)
	Put(name string, r domain.ValidationResult)
}
