package upstream

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// MockExchanger implements Exchanger for testing
type MockExchanger struct {
	mock.Mock
}

func (m *MockExchanger) ExchangeContext(ctx context.Context, msg *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	args := m.Called(msg.Question[0].Qtype, address)
	var resp *dns.Msg
	if r := args.Get(0); r != nil {
		resp = r.(*dns.Msg)
	}
	return resp, time.Millisecond, args.Error(1)
}

// funcExchanger adapts a function for tests that need the context.
type funcExchanger func(ctx context.Context, msg *dns.Msg, address string) (*dns.Msg, time.Duration, error)

func (f funcExchanger) ExchangeContext(ctx context.Context, msg *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	return f(ctx, msg, address)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []QueryEvent
}

func (o *recordingObserver) ObserveQuery(ev QueryEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

const (
	domestic = "223.5.5.5:53"
	foreign  = "8.8.8.8:53"
)

func endpoint(name, addr string, retries int) domain.ResolverEndpoint {
	return domain.ResolverEndpoint{Name: name, Address: addr, Group: domain.GroupDomestic, Timeout: time.Second, Retries: retries}
}

func reply(qtype uint16, rcode int, withAddr bool) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion("ads.example.com.", qtype)
	m.Response = true
	m.Rcode = rcode
	if withAddr {
		switch qtype {
		case dns.TypeA:
			rr, _ := dns.NewRR("ads.example.com. 60 IN A 192.0.2.1")
			m.Answer = append(m.Answer, rr)
		case dns.TypeAAAA:
			rr, _ := dns.NewRR("ads.example.com. 60 IN AAAA 2001:db8::1")
			m.Answer = append(m.Answer, rr)
		}
	}
	return m
}

func TestNewPool(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid options", Options{Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 0)}}, false},
		{"no endpoints provided", Options{}, true},
		{"bad address", Options{Endpoints: []domain.ResolverEndpoint{endpoint("x", "not-an-address", 0)}}, true},
		{"zero timeout", Options{Endpoints: []domain.ResolverEndpoint{{Address: domestic}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPool(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Len(t, p.Endpoints(), 1)
			assert.NotNil(t, p.exchanger, "default exchanger should be set")
		})
	}
}

func TestResolve_FirstEndpointAnswers(t *testing.T) {
	ex := new(MockExchanger)
	ex.On("ExchangeContext", dns.TypeA, domestic).Return(reply(dns.TypeA, dns.RcodeSuccess, true), nil)

	p, err := NewPool(Options{Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 0)}, Exchanger: ex})
	require.NoError(t, err)

	r := p.Resolve(context.Background(), "ads.example.com")
	assert.True(t, r.Valid)
	assert.Equal(t, "d1", r.ConfirmedBy)
	assert.Equal(t, domain.SourceResolver, r.Source)
	assert.Equal(t, domain.OutcomeValid, r.Outcome)
	ex.AssertNotCalled(t, "ExchangeContext", dns.TypeAAAA, domestic)
}

func TestResolve_ORConsensus(t *testing.T) {
	ex := new(MockExchanger)
	ex.On("ExchangeContext", dns.TypeA, domestic).Return(reply(dns.TypeA, dns.RcodeNameError, false), nil)
	ex.On("ExchangeContext", dns.TypeAAAA, domestic).Return(reply(dns.TypeAAAA, dns.RcodeNameError, false), nil)
	ex.On("ExchangeContext", dns.TypeA, foreign).Return(reply(dns.TypeA, dns.RcodeSuccess, true), nil)

	p, err := NewPool(Options{
		Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 0), endpoint("f1", foreign, 0)},
		Exchanger: ex,
	})
	require.NoError(t, err)

	r := p.Resolve(context.Background(), "ads.example.com")
	assert.True(t, r.Valid, "one success must be enough")
	assert.Equal(t, "f1", r.ConfirmedBy)
}

func TestResolve_AAAAFallback(t *testing.T) {
	tests := []struct {
		name string
		a    *dns.Msg
	}{
		{"after nxdomain", reply(dns.TypeA, dns.RcodeNameError, false)},
		{"after nodata", reply(dns.TypeA, dns.RcodeSuccess, false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := new(MockExchanger)
			ex.On("ExchangeContext", dns.TypeA, domestic).Return(tt.a, nil).Once()
			ex.On("ExchangeContext", dns.TypeAAAA, domestic).Return(reply(dns.TypeAAAA, dns.RcodeSuccess, true), nil).Once()

			p, err := NewPool(Options{Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 0)}, Exchanger: ex})
			require.NoError(t, err)

			r := p.Resolve(context.Background(), "ipv6only.example.com")
			assert.True(t, r.Valid)
			ex.AssertExpectations(t)
		})
	}
}

func TestResolve_NoEndpointAnswers(t *testing.T) {
	ex := new(MockExchanger)
	ex.On("ExchangeContext", mock.Anything, domestic).Return(reply(dns.TypeA, dns.RcodeNameError, false), nil)
	ex.On("ExchangeContext", mock.Anything, foreign).Return(nil, errors.New("connection refused"))

	p, err := NewPool(Options{
		Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 0), endpoint("f1", foreign, 0)},
		Exchanger: ex,
	})
	require.NoError(t, err)

	r := p.Resolve(context.Background(), "gone.example.com")
	assert.False(t, r.Valid)
	assert.Equal(t, domain.OutcomeInvalid, r.Outcome)
	assert.Empty(t, r.ConfirmedBy)
}

func TestResolve_AllErroredIsErrored(t *testing.T) {
	ex := new(MockExchanger)
	ex.On("ExchangeContext", mock.Anything, domestic).Return(reply(dns.TypeA, dns.RcodeServerFailure, false), nil)
	ex.On("ExchangeContext", mock.Anything, foreign).Return(reply(dns.TypeA, dns.RcodeRefused, false), nil)

	p, err := NewPool(Options{
		Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 0), endpoint("f1", foreign, 0)},
		Exchanger: ex,
	})
	require.NoError(t, err)

	r := p.Resolve(context.Background(), "flaky.example.com")
	assert.False(t, r.Valid)
	assert.Equal(t, domain.OutcomeErrored, r.Outcome)
	// SERVFAIL does not trigger the AAAA fallback
	ex.AssertNotCalled(t, "ExchangeContext", dns.TypeAAAA, domestic)
}

func TestResolve_RetryOnTimeout(t *testing.T) {
	ex := new(MockExchanger)
	ex.On("ExchangeContext", dns.TypeA, domestic).Return(nil, timeoutErr{}).Twice()
	ex.On("ExchangeContext", dns.TypeA, domestic).Return(reply(dns.TypeA, dns.RcodeSuccess, true), nil).Once()

	obs := &recordingObserver{}
	p, err := NewPool(Options{Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 2)}, Exchanger: ex, Observer: obs})
	require.NoError(t, err)

	r := p.Resolve(context.Background(), "slow.example.com")
	assert.True(t, r.Valid)
	ex.AssertNumberOfCalls(t, "ExchangeContext", 3)

	require.Len(t, obs.events, 3)
	assert.Equal(t, QueryTimeout, obs.events[0].Outcome)
	assert.Equal(t, QueryTimeout, obs.events[1].Outcome)
	assert.Equal(t, QueryAnswered, obs.events[2].Outcome)
	assert.Equal(t, 2, obs.events[2].Attempt)
}

func TestResolve_RetriesExhausted(t *testing.T) {
	ex := new(MockExchanger)
	ex.On("ExchangeContext", dns.TypeA, domestic).Return(nil, context.DeadlineExceeded)

	p, err := NewPool(Options{Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 1)}, Exchanger: ex})
	require.NoError(t, err)

	r := p.Resolve(context.Background(), "dead.example.com")
	assert.False(t, r.Valid)
	assert.Equal(t, domain.OutcomeErrored, r.Outcome)
	ex.AssertNumberOfCalls(t, "ExchangeContext", 2)
}

func TestResolve_NoRetryOnTransportError(t *testing.T) {
	ex := new(MockExchanger)
	ex.On("ExchangeContext", dns.TypeA, domestic).Return(nil, errors.New("network unreachable"))

	p, err := NewPool(Options{Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 3)}, Exchanger: ex})
	require.NoError(t, err)

	_ = p.Resolve(context.Background(), "x.example.com")
	ex.AssertNumberOfCalls(t, "ExchangeContext", 1)
}

func TestResolve_FirstSuccessCancelsOthers(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	ex := funcExchanger(func(ctx context.Context, msg *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
		if address == domestic {
			<-started
			return reply(dns.TypeA, dns.RcodeSuccess, true), time.Millisecond, nil
		}
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, 0, ctx.Err()
	})

	p, err := NewPool(Options{
		Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 0), endpoint("f1", foreign, 5)},
		Exchanger: ex,
	})
	require.NoError(t, err)

	r := p.Resolve(context.Background(), "ads.example.com")
	assert.True(t, r.Valid)
	assert.Equal(t, "d1", r.ConfirmedBy)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("slow endpoint was not cancelled after first success")
	}
}

func TestResolve_ParentCancelled(t *testing.T) {
	ex := funcExchanger(func(ctx context.Context, msg *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
		<-ctx.Done()
		return nil, 0, ctx.Err()
	})
	p, err := NewPool(Options{Endpoints: []domain.ResolverEndpoint{endpoint("d1", domestic, 3)}, Exchanger: ex})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := p.Resolve(ctx, "ads.example.com")
	assert.False(t, r.Valid)
	assert.Equal(t, domain.OutcomeErrored, r.Outcome)
}

func TestClassify(t *testing.T) {
	cname := new(dns.Msg)
	rr, _ := dns.NewRR("a.example.com. 60 IN CNAME b.example.com.")
	cname.Answer = []dns.RR{rr}

	assert.Equal(t, QueryError, classify(nil))
	assert.Equal(t, QueryAnswered, classify(reply(dns.TypeA, dns.RcodeSuccess, true)))
	assert.Equal(t, QueryNoData, classify(cname))
	assert.Equal(t, QueryNXDomain, classify(reply(dns.TypeA, dns.RcodeNameError, false)))
	assert.Equal(t, QueryRcode, classify(reply(dns.TypeA, dns.RcodeServerFailure, false)))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(timeoutErr{}))
	assert.True(t, isTimeout(context.DeadlineExceeded))
	assert.False(t, isTimeout(errors.New("boom")))
}
