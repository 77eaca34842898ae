package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/rr-rulecheck/internal/rules/common/log"
	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// Error message constants for consistent error handling
const (
	errNoEndpointsProvided = "no resolver endpoints provided"
	errInvalidEndpoint     = "invalid endpoint: %w"
	errExchangeFailed      = "%w: %s %s via %s: %v"
	errBadRcode            = "%w: %s %s via %s answered %s"
)

// Exchanger sends one DNS message and waits for the reply.
// *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// QueryOutcome classifies a single query attempt.
type QueryOutcome string

const (
	QueryAnswered QueryOutcome = "answered" // NOERROR with an address record
	QueryNXDomain QueryOutcome = "nxdomain"
	QueryNoData   QueryOutcome = "nodata" // NOERROR without an address record
	QueryTimeout  QueryOutcome = "timeout"
	QueryRcode    QueryOutcome = "rcode" // SERVFAIL, REFUSED and friends
	QueryError    QueryOutcome = "error" // transport or malformed reply
)

// QueryEvent describes one query attempt against one endpoint.
type QueryEvent struct {
	Endpoint string
	Group    domain.EndpointGroup
	Qtype    uint16
	Attempt  int
	Outcome  QueryOutcome
	RTT      time.Duration
}

// QueryObserver receives every query attempt. Implementations must be safe
// for concurrent use.
type QueryObserver interface {
	ObserveQuery(ev QueryEvent)
}

// Options configures a Pool.
type Options struct {
	// required parameters
	Endpoints []domain.ResolverEndpoint
	// optional; injected for testing and metrics
	Exchanger Exchanger
	Logger    log.Logger
	Observer  QueryObserver
}

// Pool validates domains by querying every endpoint concurrently.
// A domain is valid when any endpoint returns an address record.
type Pool struct {
	endpoints []domain.ResolverEndpoint
	exchanger Exchanger
	logger    log.Logger
	observer  QueryObserver
}

// endpointVerdict is what a single endpoint concluded about a domain.
type endpointVerdict int

const (
	verdictFailed   endpointVerdict = iota // no definitive answer
	verdictNegative                        // NXDOMAIN or no address for A and AAAA
	verdictResolved
)

// NewPool creates a Pool. It fails with ErrConfiguration when no endpoints
// are given or one of them is malformed.
func NewPool(opts Options) (*Pool, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errNoEndpointsProvided)
	}
	for _, ep := range opts.Endpoints {
		if err := ep.Validate(); err != nil {
			return nil, fmt.Errorf("%w: "+errInvalidEndpoint, domain.ErrConfiguration, err)
		}
	}
	if opts.Exchanger == nil {
		opts.Exchanger = &dns.Client{Net: "udp"}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	eps := make([]domain.ResolverEndpoint, len(opts.Endpoints))
	copy(eps, opts.Endpoints)
	return &Pool{
		endpoints: eps,
		exchanger: opts.Exchanger,
		logger:    opts.Logger,
		observer:  opts.Observer,
	}, nil
}

// Endpoints returns a copy of the configured endpoints.
func (p *Pool) Endpoints() []domain.ResolverEndpoint {
	out := make([]domain.ResolverEndpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Resolve asks every endpoint about name in parallel. The first endpoint to
// resolve it wins and cancels the rest; later failures cannot flip the verdict.
// Resolution errors never escape: they become an invalid or errored result.
func (p *Pool) Resolve(ctx context.Context, name string) domain.ValidationResult {
	result := domain.ValidationResult{Domain: name, Source: domain.SourceResolver, Outcome: domain.OutcomeErrored}
	if len(p.endpoints) == 0 {
		return result
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type answer struct {
		ep      domain.ResolverEndpoint
		verdict endpointVerdict
	}
	// buffered so stragglers never block after an early return
	answers := make(chan answer, len(p.endpoints))
	for _, ep := range p.endpoints {
		go func(ep domain.ResolverEndpoint) {
			answers <- answer{ep: ep, verdict: p.queryEndpoint(ctx, ep, name)}
		}(ep)
	}

	definitive := false
	for i := 0; i < len(p.endpoints); i++ {
		a := <-answers
		switch a.verdict {
		case verdictResolved:
			result.Valid = true
			result.ConfirmedBy = a.ep.Label()
			result.Outcome = domain.OutcomeValid
			return result
		case verdictNegative:
			definitive = true
		}
	}
	if definitive {
		result.Outcome = domain.OutcomeInvalid
	}
	return result
}

// queryEndpoint asks one endpoint for A, then AAAA when A was negative.
func (p *Pool) queryEndpoint(ctx context.Context, ep domain.ResolverEndpoint, name string) endpointVerdict {
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		v, err := p.query(ctx, ep, name, qtype)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Debug(map[string]any{"domain": name, "endpoint": ep.Label(), "error": err}, "endpoint query failed")
			}
			return verdictFailed
		}
		if v == verdictResolved {
			return v
		}
	}
	return verdictNegative
}

// query sends a single question, retrying on timeout up to ep.Retries times.
func (p *Pool) query(ctx context.Context, ep domain.ResolverEndpoint, name string, qtype uint16) (endpointVerdict, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	qname := dns.TypeToString[qtype]

	var lastErr error
	for attempt := 0; attempt <= ep.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return verdictFailed, err
		}
		actx, cancel := context.WithTimeout(ctx, ep.Timeout)
		resp, rtt, err := p.exchanger.ExchangeContext(actx, msg, ep.Address)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return verdictFailed, ctx.Err()
			}
			lastErr = fmt.Errorf(errExchangeFailed, domain.ErrResolution, qname, name, ep.Label(), err)
			if isTimeout(err) {
				p.observe(ep, qtype, attempt, QueryTimeout, rtt)
				continue
			}
			p.observe(ep, qtype, attempt, QueryError, rtt)
			return verdictFailed, lastErr
		}

		outcome := classify(resp)
		p.observe(ep, qtype, attempt, outcome, rtt)
		switch outcome {
		case QueryAnswered:
			return verdictResolved, nil
		case QueryNXDomain, QueryNoData:
			return verdictNegative, nil
		case QueryRcode:
			return verdictFailed, fmt.Errorf(errBadRcode, domain.ErrResolution, qname, name, ep.Label(), dns.RcodeToString[resp.Rcode])
		default:
			return verdictFailed, fmt.Errorf(errExchangeFailed, domain.ErrResolution, qname, name, ep.Label(), "malformed reply")
		}
	}
	return verdictFailed, lastErr
}

func (p *Pool) observe(ep domain.ResolverEndpoint, qtype uint16, attempt int, outcome QueryOutcome, rtt time.Duration) {
	if p.observer == nil {
		return
	}
	p.observer.ObserveQuery(QueryEvent{
		Endpoint: ep.Label(),
		Group:    ep.Group,
		Qtype:    qtype,
		Attempt:  attempt,
		Outcome:  outcome,
		RTT:      rtt,
	})
}

// classify maps a reply to a QueryOutcome.
func classify(resp *dns.Msg) QueryOutcome {
	if resp == nil {
		return QueryError
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
		for _, rr := range resp.Answer {
			switch rr.(type) {
			case *dns.A, *dns.AAAA:
				return QueryAnswered
			}
		}
		return QueryNoData
	case dns.RcodeNameError:
		return QueryNXDomain
	default:
		return QueryRcode
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
