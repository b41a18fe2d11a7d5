// Package dnsresolver provides the DNS resolution capability used by the
// batch resolver: one A query per call, sent to a randomly selected upstream.
//
// # Basic Usage
//
//	client := dnsresolver.New(
//		5*time.Second,
//		dnsresolver.WithResolvers([]string{"1.1.1.1", "9.9.9.9:53"}),
//	)
//	ips, err := client.LookupA(ctx, "example.com")
//	if err != nil {
//		var rc *dnsresolver.RcodeError
//		if errors.As(err, &rc) {
//			// NXDOMAIN, SERVFAIL, ...
//		}
//		return err
//	}
//
// # Errors
//
//   - ErrEmptyHostname: empty hostname provided
//   - ErrNoRecords: NOERROR answer without A records
//   - ErrEmptyMsg: the exchange returned no message
//   - *RcodeError: the upstream answered with a failure rcode
//   - transport errors and context deadline errors are wrapped as is
//
// The client performs no retries. A domain that fails this run is retried by
// including it in a later run.
//
// Only IPv4 is queried. AAAA records are out of scope for dnscacher since the
// resulting addresses feed a hash:ip family inet ipset.
package dnsresolver
