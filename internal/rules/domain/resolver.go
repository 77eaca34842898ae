package domain

import (
	"fmt"
	"net"
	"time"
)

// EndpointGroup tags a resolver as reachable through the domestic or foreign network path.
type EndpointGroup string

const (
	GroupDomestic EndpointGroup = "domestic"
	GroupForeign  EndpointGroup = "foreign"
)

// ResolverEndpoint is one upstream DNS server used for validation queries.
// It is immutable after configuration load.
type ResolverEndpoint struct {
	Name    string
	Address string // ip:port
	Group   EndpointGroup
	Timeout time.Duration // per query attempt
	Retries int           // additional attempts after a timeout
}

// Validate checks the endpoint for required fields.
func (e ResolverEndpoint) Validate() error {
	host, port, err := net.SplitHostPort(e.Address)
	if err != nil || host == "" || port == "" {
		return fmt.Errorf("endpoint %q: address must be ip:port", e.Address)
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("endpoint %q: invalid ip", e.Address)
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("endpoint %q: timeout must be positive", e.Address)
	}
	if e.Retries < 0 {
		return fmt.Errorf("endpoint %q: retries must not be negative", e.Address)
	}
	return nil
}

// Label returns Name when set, otherwise Address.
func (e ResolverEndpoint) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Address
}

// MaxLatency is the worst-case time a single domain can spend on this endpoint
// for one record type: timeout × (retries+1).
func (e ResolverEndpoint) MaxLatency() time.Duration {
	return e.Timeout * time.Duration(e.Retries+1)
}
