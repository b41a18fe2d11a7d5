package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lc/dnscacher/internal/dnsresolver"
)

var _ dnsresolver.Lookuper = (*MockLookuper)(nil)

// MockLookuper is a testify mock of dnsresolver.Lookuper.
type MockLookuper struct {
	mock.Mock
}

// LookupA mocks the LookupA method.
func (m *MockLookuper) LookupA(ctx context.Context, hostname string) ([]string, error) {
	args := m.Called(ctx, hostname)
	var ips []string
	if args.Get(0) != nil {
		ips = args.Get(0).([]string)
	}
	return ips, args.Error(1)
}
