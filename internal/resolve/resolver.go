// Package resolve resolves whole domain sets with bounded concurrency.
// Every domain is looked up at most once per call under its own timeout; a
// failed lookup only ever affects its own entry, which is recorded with an
// empty address list.
package resolve

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lc/dnscacher/internal/dnsresolver"
	"github.com/lc/dnscacher/internal/domains"
	"github.com/lc/dnscacher/internal/log"
	"github.com/lc/dnscacher/internal/mapping"
)

const (
	// DefaultJobs is the default number of lookups in flight.
	DefaultJobs = 10000
	// DefaultTimeout bounds a single lookup.
	DefaultTimeout = 10 * time.Second
)

// ProgressFunc is called after every completed lookup.
type ProgressFunc func(done, total int64)

// Stats summarises the last ResolveAll call.
type Stats struct {
	Total    int64
	Resolved int64 // at least one address kept
	Empty    int64 // answered, but nothing left after filtering
	Failed   int64 // timeout, rcode or transport error
}

// Resolver fans lookups for a domain set out over a bounded worker pool.
type Resolver struct {
	lookuper dnsresolver.Lookuper
	jobs     int
	timeout  time.Duration
	excluded map[string]struct{}
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger
	progress ProgressFunc

	total    atomic.Int64
	done     atomic.Int64
	resolved atomic.Int64
	empty    atomic.Int64
	failed   atomic.Int64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithJobs sets the maximum number of lookups in flight. Values below 1 mean 1.
func WithJobs(n int) Option {
	return func(r *Resolver) { r.jobs = n }
}

// WithTimeout sets the per-lookup timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithExcluded replaces the addresses dropped from every result.
func WithExcluded(ips ...string) Option {
	return func(r *Resolver) { r.excluded = mapping.ExcludedSet(ips...) }
}

// WithRateLimit caps lookups per second across all workers. 0 disables it.
func WithRateLimit(qps float64) Option {
	return func(r *Resolver) {
		if qps <= 0 {
			r.limiter = nil
			return
		}
		burst := int(qps)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithProgress registers a callback invoked after each completed lookup.
// It may be called from many goroutines at once.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Resolver) { r.progress = fn }
}

// New returns a Resolver backed by l.
func New(l dnsresolver.Lookuper, opts ...Option) *Resolver {
	r := &Resolver{
		lookuper: l,
		jobs:     DefaultJobs,
		timeout:  DefaultTimeout,
		excluded: mapping.ExcludedSet(mapping.DefaultExcluded...),
	}
	for _, o := range opts {
		o(r)
	}
	if r.jobs < 1 {
		r.jobs = 1
	}
	r.logger = log.OrNop(r.logger)
	return r
}

// Jobs returns the effective concurrency limit.
func (r *Resolver) Jobs() int { return r.jobs }

// ResolveAll looks up every member of set and returns a Mapping holding
// exactly those domains. It never fails: a domain whose lookup times out or
// errors maps to an empty list. Once ctx is cancelled the domains not yet
// started are recorded as empty without being queried.
func (r *Resolver) ResolveAll(ctx context.Context, set domains.Set) *mapping.Mapping {
	out := mapping.New()
	total := int64(set.Len())
	r.total.Store(total)
	r.done.Store(0)
	r.resolved.Store(0)
	r.empty.Store(0)
	r.failed.Store(0)

	if total == 0 {
		return out
	}

	r.logger.Debugw("resolving domains", "count", total, "jobs", r.jobs, "timeout", r.timeout)

	var g errgroup.Group
	g.SetLimit(r.jobs)

	for _, d := range set.Sorted() {
		domain := d
		g.Go(func() error {
			out.Set(domain, r.resolveOne(ctx, domain))
			r.complete(total)
			return nil
		})
	}
	// workers never return an error
	_ = g.Wait()

	r.logger.Debugw("resolved domains",
		"count", total,
		"resolved", r.resolved.Load(),
		"empty", r.empty.Load(),
		"failed", r.failed.Load(),
	)
	return out
}

// Stats returns the counters of the last ResolveAll call.
func (r *Resolver) Stats() Stats {
	return Stats{
		Total:    r.total.Load(),
		Resolved: r.resolved.Load(),
		Empty:    r.empty.Load(),
		Failed:   r.failed.Load(),
	}
}

func (r *Resolver) resolveOne(ctx context.Context, domain string) []string {
	if err := ctx.Err(); err != nil {
		r.failed.Inc()
		return nil
	}

	// the lookup timeout starts once the limiter admits the query
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Debugw("rate limiter wait failed", "domain", domain, "error", err)
			r.failed.Inc()
			return nil
		}
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ips, err := r.lookuper.LookupA(lctx, domain)
	if err != nil {
		r.logger.Debugw("lookup failed", "domain", domain, "error", err)
		r.failed.Inc()
		return nil
	}

	ips = mapping.FilterIPs(ips, r.excluded)
	if len(ips) == 0 {
		r.empty.Inc()
	} else {
		r.resolved.Inc()
	}
	return ips
}

func (r *Resolver) complete(total int64) {
	done := r.done.Inc()
	if r.progress != nil {
		r.progress(done, total)
	}
}
