package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/lc/dnscacher/internal/firewall"
)

var (
	_ firewall.Runner    = (*MockRunner)(nil)
	_ firewall.RuleTable = (*MockRuleTable)(nil)
	_ firewall.Manager   = (*MockManager)(nil)
)

// MockRunner is a testify mock of firewall.Runner. The stdin content is
// passed to Called as a string so expectations can match on it.
type MockRunner struct {
	mock.Mock
}

// Run mocks the Run method.
func (m *MockRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	var input string
	if stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		input = string(b)
	}
	ret := m.Called(input, name, args)
	var out []byte
	if ret.Get(0) != nil {
		out = ret.Get(0).([]byte)
	}
	return out, ret.Error(1)
}

// MockRuleTable is a testify mock of firewall.RuleTable.
type MockRuleTable struct {
	mock.Mock
}

// Exists mocks the Exists method.
func (m *MockRuleTable) Exists(table, chain string, rulespec ...string) (bool, error) {
	args := m.Called(table, chain, rulespec)
	return args.Bool(0), args.Error(1)
}

// Insert mocks the Insert method.
func (m *MockRuleTable) Insert(table, chain string, pos int, rulespec ...string) error {
	args := m.Called(table, chain, pos, rulespec)
	return args.Error(0)
}

// MockManager is a testify mock of firewall.Manager.
type MockManager struct {
	mock.Mock
}

// Sync mocks the Sync method.
func (m *MockManager) Sync(ctx context.Context, name string, ips []string) error {
	args := m.Called(ctx, name, ips)
	return args.Error(0)
}

// Block mocks the Block method.
func (m *MockManager) Block(ctx context.Context, name string, persist bool) error {
	args := m.Called(ctx, name, persist)
	return args.Error(0)
}
