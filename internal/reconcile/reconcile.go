// Package reconcile keeps the stored mapping in step with a target domain
// set. A run locks the store, loads it, resolves the domains that are new
// plus a random share of the retained ones, drops the stale ones and saves
// the result. Only one run per store executes at a time.
package reconcile

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lc/dnscacher/internal/domains"
	"github.com/lc/dnscacher/internal/log"
	"github.com/lc/dnscacher/internal/mapping"
	"github.com/lc/dnscacher/internal/metrics"
	"github.com/lc/dnscacher/internal/resolve"
)

// Storer persists the mapping between runs.
type Storer interface {
	Load() (*mapping.Mapping, error)
	Save(m *mapping.Mapping) error
	Lock() (func() error, error)
}

// BatchResolver resolves a whole domain set.
type BatchResolver interface {
	ResolveAll(ctx context.Context, set domains.Set) *mapping.Mapping
}

type statser interface {
	Stats() resolve.Stats
}

var (
	_ Storer        = (*mapping.Store)(nil)
	_ BatchResolver = (*resolve.Resolver)(nil)
)

// Plan is the work of one run.
type Plan struct {
	New      domains.Set // target - stored
	Retained domains.Set // stored ∩ target
	Refresh  domains.Set // random share of Retained
	Stale    domains.Set // stored - target
	Resolve  domains.Set // New ∪ Refresh
}

// NewPlan computes the plan for bringing stored in line with target.
// Refresh is drawn from Retained only, so New and Refresh never overlap and
// no domain is resolved twice in a run.
func NewPlan(stored, target domains.Set, part int, rnd *rand.Rand) Plan {
	p := Plan{
		New:      domains.Difference(target, stored),
		Retained: domains.Intersect(stored, target),
		Stale:    domains.Difference(stored, target),
	}
	p.Refresh = domains.RandomSubset(p.Retained, part, rnd)
	p.Resolve = domains.Union(p.New, p.Refresh)
	return p
}

// Report summarises a finished run.
type Report struct {
	RunID     string
	Target    int // New + Retained
	Stored    int
	New       int
	Refreshed int
	Stale     int
	Resolved  int // looked up and got at least one address
	Empty     int // looked up and got nothing
	Domains   int // size of the saved mapping
	IPs       int
	Duration  time.Duration
}

// Reconciler runs reconciliations against one store.
type Reconciler struct {
	store    Storer
	resolver BatchResolver
	part     int
	rnd      *rand.Rand
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Opt configures a Reconciler.
type Opt func(*Reconciler)

// WithPart sets the percentage of retained domains refreshed per run.
func WithPart(part int) Opt {
	return func(r *Reconciler) { r.part = part }
}

// WithRand sets the random source used for sampling.
func WithRand(rnd *rand.Rand) Opt {
	return func(r *Reconciler) { r.rnd = rnd }
}

// WithLogger sets the reconciler logger.
func WithLogger(l *zap.SugaredLogger) Opt {
	return func(r *Reconciler) { r.logger = l }
}

// WithMetrics records run statistics in m.
func WithMetrics(m *metrics.Metrics) Opt {
	return func(r *Reconciler) { r.metrics = m }
}

// New returns a Reconciler. The default part is 100.
func New(store Storer, resolver BatchResolver, opts ...Opt) *Reconciler {
	r := &Reconciler{
		store:    store,
		resolver: resolver,
		part:     100,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = log.OrNop(r.logger)
	return r
}

// Update reconciles the store with target: new domains are resolved, a
// random share of retained ones is refreshed and stale ones are removed.
func (r *Reconciler) Update(ctx context.Context, target domains.Set) (*mapping.Mapping, Report, error) {
	return r.run(ctx, "update", func(stored domains.Set) Plan {
		return NewPlan(stored, target, r.part, r.rnd)
	})
}

// Add resolves the domains of target missing from the store. Nothing is
// refreshed or removed.
func (r *Reconciler) Add(ctx context.Context, target domains.Set) (*mapping.Mapping, Report, error) {
	return r.run(ctx, "add", func(stored domains.Set) Plan {
		p := Plan{
			New:      domains.Difference(target, stored),
			Retained: domains.Intersect(stored, target),
			Refresh:  domains.New(),
			Stale:    domains.New(),
		}
		p.Resolve = p.New.Clone()
		return p
	})
}

// Refresh re-resolves a random share of the stored domains. Nothing is added
// or removed.
func (r *Reconciler) Refresh(ctx context.Context) (*mapping.Mapping, Report, error) {
	return r.run(ctx, "refresh", func(stored domains.Set) Plan {
		p := Plan{
			New:      domains.New(),
			Retained: stored.Clone(),
			Stale:    domains.New(),
		}
		p.Refresh = domains.RandomSubset(stored, r.part, r.rnd)
		p.Resolve = p.Refresh.Clone()
		return p
	})
}

// Get loads the stored mapping without changing it.
func (r *Reconciler) Get() (*mapping.Mapping, error) {
	return r.store.Load()
}

func (r *Reconciler) run(ctx context.Context, op string, plan func(domains.Set) Plan) (_ *mapping.Mapping, rep Report, err error) {
	start := r.now()
	rep.RunID = uuid.NewString()
	logger := r.logger.With("run", rep.RunID, "op", op)
	logger.Infow("--- new run ---")

	unlock, err := r.store.Lock()
	if err != nil {
		return nil, rep, err
	}
	defer func() {
		err = multierr.Append(err, unlock())
	}()

	m, err := r.store.Load()
	if err != nil {
		return nil, rep, err
	}

	stored := m.Domains()
	p := plan(stored)
	rep.Target = p.New.Len() + p.Retained.Len()
	rep.Stored = stored.Len()
	rep.New = p.New.Len()
	rep.Refreshed = p.Refresh.Len()
	rep.Stale = p.Stale.Len()

	logger.Infow("domains to resolve",
		"resolve", p.Resolve.Len(),
		"new", rep.New,
		"refresh", rep.Refreshed,
		"stale", rep.Stale,
	)

	resolved := r.resolver.ResolveAll(ctx, p.Resolve)
	if err := ctx.Err(); err != nil {
		return nil, rep, fmt.Errorf("%s interrupted, mappings left unchanged: %w", op, err)
	}

	m.Merge(resolved)
	m.RemoveAll(p.Stale)

	if err := r.store.Save(m); err != nil {
		return nil, rep, err
	}

	rep.Empty = resolved.Unresolved()
	rep.Resolved = resolved.Len() - rep.Empty
	rep.Domains = m.Len()
	rep.IPs = len(m.IPs())
	rep.Duration = r.now().Sub(start)

	r.observe(rep)
	logger.Infow("run finished",
		"domains", rep.Domains,
		"ips", rep.IPs,
		"resolved", rep.Resolved,
		"empty", rep.Empty,
		"duration", rep.Duration,
	)
	return m, rep, nil
}

func (r *Reconciler) observe(rep Report) {
	if r.metrics == nil {
		return
	}
	if s, ok := r.resolver.(statser); ok {
		st := s.Stats()
		r.metrics.ObserveLookups(st.Resolved, st.Empty, st.Failed)
	}
	r.metrics.ObserveMapping(rep.Domains, rep.IPs)
	r.metrics.ObserveRun(rep.New, rep.Refreshed, rep.Stale, rep.Duration, r.now())
}
