package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lc/dnscacher/internal/dnsresolver"
	"github.com/lc/dnscacher/internal/domains"
	"github.com/lc/dnscacher/internal/mocks"
)

type ResolverTestSuite struct {
	suite.Suite
	lookuper *mocks.MockLookuper
}

func (s *ResolverTestSuite) SetupTest() {
	s.lookuper = new(mocks.MockLookuper)
}

func (s *ResolverTestSuite) TestResolveAll() {
	s.lookuper.On("LookupA", mock.Anything, "example.com").Return([]string{"1.2.3.4"}, nil)
	s.lookuper.On("LookupA", mock.Anything, "example.org").Return([]string{"5.6.7.8", "9.10.11.12"}, nil)

	r := New(s.lookuper, WithJobs(4))
	m := r.ResolveAll(context.Background(), domains.New("example.com", "example.org"))

	s.Equal(map[string][]string{
		"example.com": {"1.2.3.4"},
		"example.org": {"5.6.7.8", "9.10.11.12"},
	}, m.Entries())
	s.Equal(Stats{Total: 2, Resolved: 2}, r.Stats())
	s.lookuper.AssertExpectations(s.T())
}

func (s *ResolverTestSuite) TestEmptySet() {
	r := New(s.lookuper)
	m := r.ResolveAll(context.Background(), domains.New())
	s.Zero(m.Len())
	s.lookuper.AssertNotCalled(s.T(), "LookupA", mock.Anything, mock.Anything)
}

func (s *ResolverTestSuite) TestFailureIsolation() {
	slow := dnsresolver.LookupFunc(func(ctx context.Context, host string) ([]string, error) {
		switch host {
		case "slow.example":
			<-ctx.Done()
			return nil, ctx.Err()
		case "nx.example":
			return nil, &dnsresolver.RcodeError{Host: host, Rcode: 3}
		case "broken.example":
			return nil, errors.New("connection refused")
		default:
			return []string{"1.2.3.4"}, nil
		}
	})

	r := New(slow, WithJobs(2), WithTimeout(50*time.Millisecond))
	m := r.ResolveAll(context.Background(), domains.New("ok.example", "slow.example", "nx.example", "broken.example"))

	s.Equal(map[string][]string{
		"ok.example":     {"1.2.3.4"},
		"slow.example":   {},
		"nx.example":     {},
		"broken.example": {},
	}, m.Entries())
	s.Equal(Stats{Total: 4, Resolved: 1, Failed: 3}, r.Stats())
}

func (s *ResolverTestSuite) TestExcludedAddressesDropped() {
	s.lookuper.On("LookupA", mock.Anything, "blocked.example").Return([]string{"0.0.0.0"}, nil)
	s.lookuper.On("LookupA", mock.Anything, "mixed.example").Return([]string{"127.0.0.1", "1.2.3.4"}, nil)

	r := New(s.lookuper)
	m := r.ResolveAll(context.Background(), domains.New("blocked.example", "mixed.example"))

	s.Equal(map[string][]string{
		"blocked.example": {},
		"mixed.example":   {"1.2.3.4"},
	}, m.Entries())
	s.Equal(Stats{Total: 2, Resolved: 1, Empty: 1}, r.Stats())
}

func (s *ResolverTestSuite) TestCustomExcluded() {
	s.lookuper.On("LookupA", mock.Anything, "example.com").Return([]string{"0.0.0.0", "10.0.0.1"}, nil)

	r := New(s.lookuper, WithExcluded("10.0.0.1"))
	m := r.ResolveAll(context.Background(), domains.New("example.com"))

	ips, ok := m.Get("example.com")
	s.True(ok)
	s.Equal([]string{"0.0.0.0"}, ips)
}

func (s *ResolverTestSuite) TestConcurrencyBound() {
	testCases := []struct {
		name string
		jobs int
		want int64
	}{
		{name: "single job", jobs: 1, want: 1},
		{name: "zero is one", jobs: 0, want: 1},
		{name: "four jobs", jobs: 4, want: 4},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			var inFlight, peak atomic.Int64
			l := dnsresolver.LookupFunc(func(ctx context.Context, host string) ([]string, error) {
				n := inFlight.Inc()
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Dec()
				return []string{"1.2.3.4"}, nil
			})

			set := domains.New()
			for i := 0; i < 40; i++ {
				set.Add(fmt.Sprintf("host%d.example", i))
			}

			r := New(l, WithJobs(tc.jobs))
			m := r.ResolveAll(context.Background(), set)

			s.Equal(40, m.Len())
			s.LessOrEqual(peak.Load(), tc.want)
			if tc.want > 1 {
				s.Greater(peak.Load(), int64(1))
			}
		})
	}
}

func (s *ResolverTestSuite) TestEachDomainLookedUpOnce() {
	var mu sync.Mutex
	calls := make(map[string]int)
	l := dnsresolver.LookupFunc(func(ctx context.Context, host string) ([]string, error) {
		mu.Lock()
		calls[host]++
		mu.Unlock()
		return []string{"1.2.3.4"}, nil
	})

	set := domains.New()
	for i := 0; i < 100; i++ {
		set.Add(fmt.Sprintf("host%d.example", i))
	}

	New(l, WithJobs(8)).ResolveAll(context.Background(), set)

	s.Len(calls, 100)
	for host, n := range calls {
		s.Equal(1, n, host)
	}
}

func (s *ResolverTestSuite) TestProgress() {
	s.lookuper.On("LookupA", mock.Anything, mock.Anything).Return([]string{"1.2.3.4"}, nil)

	var (
		mu    sync.Mutex
		seen  []int64
		total int64
	)
	r := New(s.lookuper, WithJobs(3), WithProgress(func(done, t int64) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, done)
		total = t
	}))
	r.ResolveAll(context.Background(), domains.New("a.example", "b.example", "c.example", "d.example", "e.example"))

	s.Len(seen, 5)
	s.ElementsMatch([]int64{1, 2, 3, 4, 5}, seen)
	s.Equal(int64(5), total)
}

func (s *ResolverTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(s.lookuper)
	m := r.ResolveAll(ctx, domains.New("example.com", "example.org"))

	s.Equal(map[string][]string{"example.com": {}, "example.org": {}}, m.Entries())
	s.Equal(int64(2), r.Stats().Failed)
	s.lookuper.AssertNotCalled(s.T(), "LookupA", mock.Anything, mock.Anything)
}

func (s *ResolverTestSuite) TestRateLimitQueriesEveryDomain() {
	s.lookuper.On("LookupA", mock.Anything, mock.Anything).Return([]string{"1.2.3.4"}, nil)

	// 30 domains at 20 qps take longer than the lookup timeout to admit
	set := domains.New()
	for i := 0; i < 30; i++ {
		set.Add(fmt.Sprintf("host%d.example", i))
	}
	r := New(s.lookuper, WithJobs(30), WithTimeout(100*time.Millisecond), WithRateLimit(20))

	start := time.Now()
	m := r.ResolveAll(context.Background(), set)

	s.GreaterOrEqual(time.Since(start), 300*time.Millisecond)
	s.lookuper.AssertNumberOfCalls(s.T(), "LookupA", 30)
	s.Equal(30, m.Len())
	s.Zero(m.Unresolved())
	s.Equal(Stats{Total: 30, Resolved: 30}, r.Stats())
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverTestSuite))
}
