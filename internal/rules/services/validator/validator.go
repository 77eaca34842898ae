package validator

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/haukened/rr-rulecheck/internal/rules/common/log"
	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

const (
	errResolverRequired = "resolver is required"
	errCacheRequired    = "verdict cache is required"
)

// Validator answers "does this domain still resolve?" for a whole run.
// It is safe for concurrent use by any number of file processors.
type Validator struct {
	whitelist Whitelist
	cache     VerdictCache
	resolver  Resolver
	logger    log.Logger
	flights   singleflight.Group
}

// Options configures a Validator. Whitelist may be nil.
type Options struct {
	Whitelist Whitelist
	Cache     VerdictCache
	Resolver  Resolver
	Logger    log.Logger
}

// New creates a Validator.
func New(opts Options) (*Validator, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errResolverRequired)
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errCacheRequired)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Validator{
		whitelist: opts.Whitelist,
		cache:     opts.Cache,
		resolver:  opts.Resolver,
		logger:    opts.Logger,
	}, nil
}

// Validate returns the verdict for name, checking whitelist, cache and the
// resolver in that order. Concurrent calls for the same name share a single
// resolution. A result computed after ctx was cancelled is returned but not cached.
func (v *Validator) Validate(ctx context.Context, name string) domain.ValidationResult {
	cn, ok := domain.NormalizeName(name)
	if !ok {
		return domain.ValidationResult{Domain: name, Source: domain.SourceResolver, Outcome: domain.OutcomeInvalid}
	}
	if v.whitelist != nil && v.whitelist.Contains(cn) {
		return domain.WhitelistedResult(cn)
	}
	if r, ok := v.cache.Get(cn); ok {
		return r.FromCache()
	}

	res, _, _ := v.flights.Do(cn, func() (any, error) {
		// a flight that finished between lookup and Do has already cached its result
		if r, ok := v.cache.Peek(cn); ok {
			return r.FromCache(), nil
		}
		r := v.resolver.Resolve(ctx, cn)
		if ctx.Err() != nil {
			return r, nil
		}
		v.cache.Put(cn, r)
		v.logger.Debug(map[string]any{"domain": cn, "valid": r.Valid, "outcome": string(r.Outcome), "confirmed_by": r.ConfirmedBy}, "domain resolved")
		return r, nil
	})
	return res.(domain.ValidationResult)
}

// IsValid reports whether name resolves or is whitelisted.
func (v *Validator) IsValid(ctx context.Context, name string) bool {
	return v.Validate(ctx, name).Valid
}
