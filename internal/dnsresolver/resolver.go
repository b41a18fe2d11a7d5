// Package dnsresolver provides the single-domain DNS resolution capability
// dnscacher builds on. It issues A queries to upstream resolvers over
// github.com/miekg/dns and returns the IPv4 addresses in answer order.
package dnsresolver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var (
	// ErrNoRecords is returned when no A records are found for a hostname.
	ErrNoRecords = errors.New("no records found")
	// ErrEmptyMsg is returned when the DNS response message is empty.
	ErrEmptyMsg = errors.New("empty message")
	// ErrEmptyHostname is returned when an empty hostname is provided.
	ErrEmptyHostname = errors.New("empty hostname")
)

// DefaultResolver is used when no upstream resolvers are configured.
const DefaultResolver = "1.1.1.1:53"

var _ Lookuper = (*Client)(nil)

// Lookuper resolves a hostname to its IPv4 addresses.
type Lookuper interface {
	// LookupA returns the A records of hostname as dotted-quad strings.
	LookupA(ctx context.Context, hostname string) ([]string, error)
}

// LookupFunc adapts a function to the Lookuper interface.
type LookupFunc func(ctx context.Context, hostname string) ([]string, error)

// LookupA calls f(ctx, hostname).
func (f LookupFunc) LookupA(ctx context.Context, hostname string) ([]string, error) {
	return f(ctx, hostname)
}

// Exchanger defines the interface for DNS message exchange.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, a string) (r *dns.Msg, rtt time.Duration, err error)
}

// RcodeError reports a response with a non-success rcode, e.g. NXDOMAIN.
type RcodeError struct {
	Host  string
	Rcode int
}

func (e *RcodeError) Error() string {
	return fmt.Sprintf("dns lookup for %q: %s", e.Host, dns.RcodeToString[e.Rcode])
}

// Client implements Lookuper on top of a miekg/dns client.
type Client struct {
	Client    Exchanger
	Timeout   time.Duration
	Resolvers []string
	Network   string
}

// Opt is a function option for configuring the Client.
type Opt func(r *Client)

// New creates a new Client with the given timeout and optional configurations.
// The returned Client is ready to use for DNS lookups.
func New(timeout time.Duration, opts ...Opt) *Client {
	res := &Client{
		Timeout: timeout,
		Network: "udp",
	}

	for _, o := range opts {
		o(res)
	}

	if res.Client == nil {
		res.Client = &dns.Client{
			Net:     res.Network,
			Timeout: res.Timeout,
		}
	}

	return res
}

// WithResolvers returns an option to set custom DNS resolvers.
// Entries without a port get :53. If not provided, DefaultResolver is used.
func WithResolvers(resolvers []string) Opt {
	return func(r *Client) {
		r.Resolvers = make([]string, 0, len(resolvers))
		for _, a := range resolvers {
			if a = strings.TrimSpace(a); a == "" {
				continue
			}
			if _, _, err := net.SplitHostPort(a); err != nil {
				a = net.JoinHostPort(a, "53")
			}
			r.Resolvers = append(r.Resolvers, a)
		}
	}
}

// WithTimeout returns an option to set a custom timeout for DNS queries.
// This overrides the timeout provided to New.
func WithTimeout(timeout time.Duration) Opt {
	return func(r *Client) {
		r.Timeout = timeout
	}
}

// WithNetwork selects the transport, "udp" or "tcp".
func WithNetwork(network string) Opt {
	return func(r *Client) {
		if network != "" {
			r.Network = network
		}
	}
}

// WithExchanger replaces the underlying DNS client.
func WithExchanger(e Exchanger) Opt {
	return func(r *Client) {
		r.Client = e
	}
}

// LookupA resolves a hostname to its IPv4 addresses.
// If the hostname is already an IPv4 address, it returns it directly.
// Returns an error if the hostname is empty, if the query fails or if the
// answer holds no A records.
func (r *Client) LookupA(ctx context.Context, hostname string) ([]string, error) {
	// ensure we have a hostname
	if strings.TrimSpace(hostname) == "" {
		return nil, ErrEmptyHostname
	}

	// if hostname is an IPv4 literal, return it as is.
	if ip := net.ParseIP(hostname); ip != nil && ip.To4() != nil {
		return []string{ip.String()}, nil
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(hostname), dns.TypeA)
	req.RecursionDesired = true

	resp, _, err := r.Client.ExchangeContext(ctx, req, r.getResolver())
	if err != nil {
		return nil, fmt.Errorf("dns lookup for %q: %w", hostname, err)
	}
	if resp == nil {
		return nil, ErrEmptyMsg
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, &RcodeError{Host: hostname, Rcode: resp.Rcode}
	}

	return parseIPs(resp)
}

// parseIPs returns the A answers of resp in order. CNAME records in the
// answer section are skipped; the resolver already followed them.
func parseIPs(resp *dns.Msg) ([]string, error) {
	if resp == nil {
		return nil, ErrEmptyMsg
	}

	var ips []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok && a.A != nil {
			ips = append(ips, a.A.String())
		}
	}

	if len(ips) == 0 {
		return nil, ErrNoRecords
	}

	return ips, nil
}

// getResolver returns a random resolver from the list of resolvers.
func (r *Client) getResolver() string {
	if len(r.Resolvers) == 0 {
		return DefaultResolver
	}

	// Use crypto/rand for secure random selection
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(r.Resolvers))))
	if err != nil {
		// Fall back to first resolver on error
		return r.Resolvers[0]
	}

	return r.Resolvers[n.Int64()]
}
