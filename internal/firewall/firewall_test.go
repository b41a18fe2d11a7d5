package firewall_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/lc/dnscacher/internal/firewall"
	"github.com/lc/dnscacher/internal/mocks"
)

type FirewallTestSuite struct {
	suite.Suite
	runner *mocks.MockRunner
	table  *mocks.MockRuleTable
	rules  string
	fw     *firewall.Firewall
}

func (s *FirewallTestSuite) SetupTest() {
	s.runner = new(mocks.MockRunner)
	s.table = new(mocks.MockRuleTable)
	s.rules = filepath.Join(s.T().TempDir(), "iptables", "iptables.rules")
	s.fw = firewall.New(
		firewall.WithRunner(s.runner),
		firewall.WithRuleTable(s.table),
		firewall.WithRulesFile(s.rules),
	)
}

func (s *FirewallTestSuite) TestSync() {
	s.runner.On("Run", "", "ipset", []string{"create", "dnscacher", "hash:ip", "family", "inet", "-exist"}).
		Return(nil, nil).Once()
	s.runner.On("Run", "flush dnscacher\nadd dnscacher 1.2.3.4\nadd dnscacher 5.6.7.8\n", "ipset", []string{"restore", "-exist"}).
		Return(nil, nil).Once()

	err := s.fw.Sync(context.Background(), "dnscacher", []string{"1.2.3.4", "not-an-ip", "::1", "5.6.7.8"})
	s.Require().NoError(err)
	s.runner.AssertExpectations(s.T())
}

func (s *FirewallTestSuite) TestSyncEmptyFlushesSet() {
	s.runner.On("Run", "", "ipset", mock.Anything).Return(nil, nil).Once()
	s.runner.On("Run", "flush dnscacher\n", "ipset", []string{"restore", "-exist"}).Return(nil, nil).Once()

	s.Require().NoError(s.fw.Sync(context.Background(), "dnscacher", nil))
	s.runner.AssertExpectations(s.T())
}

func (s *FirewallTestSuite) TestSyncCreateFails() {
	s.runner.On("Run", "", "ipset", mock.Anything).Return(nil, errors.New("permission denied")).Once()

	err := s.fw.Sync(context.Background(), "dnscacher", []string{"1.2.3.4"})
	var fe *firewall.Error
	s.Require().True(errors.As(err, &fe))
	s.Equal("dnscacher", fe.Set)
	s.Equal("create", fe.Op)
	s.runner.AssertNumberOfCalls(s.T(), "Run", 1)
}

func (s *FirewallTestSuite) TestSyncRestoreFails() {
	s.runner.On("Run", "", "ipset", mock.Anything).Return(nil, nil).Once()
	s.runner.On("Run", mock.Anything, "ipset", []string{"restore", "-exist"}).Return(nil, errors.New("exit status 1")).Once()

	err := s.fw.Sync(context.Background(), "dnscacher", []string{"1.2.3.4"})
	var fe *firewall.Error
	s.Require().True(errors.As(err, &fe))
	s.Equal("restore", fe.Op)
}

type failingBackend struct{}

func (failingBackend) Sync(context.Context, string, []string) error { return errors.New("boom") }

func (s *FirewallTestSuite) TestSyncWrapsBackendErrors() {
	fw := firewall.New(firewall.WithSetBackend(failingBackend{}))

	err := fw.Sync(context.Background(), "dnscacher", nil)
	var fe *firewall.Error
	s.Require().True(errors.As(err, &fe))
	s.Equal("sync", fe.Op)
}

func (s *FirewallTestSuite) TestBlockInsertsRule() {
	spec := firewall.DropRule("dnscacher")
	s.table.On("Exists", "filter", "INPUT", spec).Return(false, nil).Once()
	s.table.On("Insert", "filter", "INPUT", 1, spec).Return(nil).Once()

	s.Require().NoError(s.fw.Block(context.Background(), "dnscacher", false))
	s.table.AssertExpectations(s.T())
	s.runner.AssertNotCalled(s.T(), "Run", mock.Anything, mock.Anything, mock.Anything)
}

func (s *FirewallTestSuite) TestBlockIsIdempotent() {
	spec := firewall.DropRule("dnscacher")
	s.table.On("Exists", "filter", "INPUT", spec).Return(true, nil).Once()

	s.Require().NoError(s.fw.Block(context.Background(), "dnscacher", false))
	s.table.AssertNotCalled(s.T(), "Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *FirewallTestSuite) TestBlockPersist() {
	spec := firewall.DropRule("dnscacher")
	s.table.On("Exists", "filter", "INPUT", spec).Return(true, nil).Once()
	s.runner.On("Run", "", "iptables-save", []string(nil)).Return([]byte("*filter\nCOMMIT\n"), nil).Once()

	s.Require().NoError(s.fw.Block(context.Background(), "dnscacher", true))

	b, err := os.ReadFile(s.rules)
	s.Require().NoError(err)
	s.Equal("*filter\nCOMMIT\n", string(b))
}

func (s *FirewallTestSuite) TestBlockPersistFails() {
	spec := firewall.DropRule("dnscacher")
	s.table.On("Exists", "filter", "INPUT", spec).Return(true, nil).Once()
	s.runner.On("Run", "", "iptables-save", []string(nil)).Return(nil, errors.New("not found")).Once()

	err := s.fw.Block(context.Background(), "dnscacher", true)
	var fe *firewall.Error
	s.Require().True(errors.As(err, &fe))
	s.Equal("persist", fe.Op)
	_, statErr := os.Stat(s.rules)
	s.True(os.IsNotExist(statErr))
}

func (s *FirewallTestSuite) TestBlockInsertFails() {
	spec := firewall.DropRule("dnscacher")
	s.table.On("Exists", "filter", "INPUT", spec).Return(false, nil).Once()
	s.table.On("Insert", "filter", "INPUT", 1, spec).Return(errors.New("iptables: exit status 4")).Once()

	err := s.fw.Block(context.Background(), "dnscacher", false)
	var fe *firewall.Error
	s.Require().True(errors.As(err, &fe))
	s.Equal("block", fe.Op)
}

func (s *FirewallTestSuite) TestRestoreScript() {
	s.Equal("flush x\nadd x 1.1.1.1\n", firewall.RestoreScript("x", []string{"1.1.1.1"}))
}

func TestFirewallSuite(t *testing.T) {
	suite.Run(t, new(FirewallTestSuite))
}
