//go:build !linux

package firewall

import (
	"context"

	"go.uber.org/zap"
)

var _ SetBackend = (*Netlink)(nil)

// Netlink is unavailable outside Linux.
type Netlink struct{}

// NewNetlink always fails with ErrUnsupported.
func NewNetlink(*zap.SugaredLogger) (*Netlink, error) {
	return nil, ErrUnsupported
}

// Sync always fails with ErrUnsupported.
func (*Netlink) Sync(_ context.Context, name string, _ []string) error {
	return &Error{Set: name, Op: "sync", Err: ErrUnsupported}
}
