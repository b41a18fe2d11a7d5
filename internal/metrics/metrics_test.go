package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

type MetricsTestSuite struct {
	suite.Suite
	m *Metrics
}

func (s *MetricsTestSuite) SetupTest() {
	s.m = New()
}

func (s *MetricsTestSuite) TestObserve() {
	s.m.ObserveLookups(3, 1, 2)
	s.m.ObserveLookups(1, 0, 0)
	s.m.ObserveMapping(10, 7)
	s.m.ObserveRun(4, 2, 1, 1500*time.Millisecond, time.Unix(1700000000, 0))

	s.Equal(4.0, testutil.ToFloat64(s.m.lookups.WithLabelValues("resolved")))
	s.Equal(1.0, testutil.ToFloat64(s.m.lookups.WithLabelValues("empty")))
	s.Equal(2.0, testutil.ToFloat64(s.m.lookups.WithLabelValues("failed")))
	s.Equal(10.0, testutil.ToFloat64(s.m.domains))
	s.Equal(7.0, testutil.ToFloat64(s.m.ips))
	s.Equal(4.0, testutil.ToFloat64(s.m.reconcile.WithLabelValues("new")))
	s.Equal(2.0, testutil.ToFloat64(s.m.reconcile.WithLabelValues("refreshed")))
	s.Equal(1.0, testutil.ToFloat64(s.m.reconcile.WithLabelValues("stale")))
	s.Equal(1.5, testutil.ToFloat64(s.m.duration))
	s.Equal(1700000000.0, testutil.ToFloat64(s.m.lastRun))
}

func (s *MetricsTestSuite) TestNilIsNoop() {
	var m *Metrics
	m.ObserveLookups(1, 1, 1)
	m.ObserveMapping(1, 1)
	m.ObserveRun(1, 1, 1, time.Second, time.Now())
	s.NoError(m.WriteTextfile("/nonexistent/dir/x.prom"))
}

func (s *MetricsTestSuite) TestWriteTextfile() {
	s.m.ObserveMapping(2, 3)
	path := filepath.Join(s.T().TempDir(), "textfile", "dnscacher.prom")

	s.Require().NoError(s.m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Contains(string(b), "dnscacher_domains 2")
	s.Contains(string(b), "dnscacher_ips 3")
}

func (s *MetricsTestSuite) TestWriteTextfileDisabled() {
	s.NoError(s.m.WriteTextfile(""))
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsTestSuite))
}
