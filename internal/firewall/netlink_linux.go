//go:build linux

package firewall

import (
	"context"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lc/dnscacher/internal/log"
)

var _ SetBackend = (*Netlink)(nil)

// Netlink is a SetBackend talking to the kernel ipset subsystem directly.
type Netlink struct {
	logger *zap.SugaredLogger
}

// NewNetlink returns the netlink set backend.
func NewNetlink(l *zap.SugaredLogger) (*Netlink, error) {
	return &Netlink{logger: log.OrNop(l)}, nil
}

// Sync creates the set if needed, flushes it and adds every address.
// Individual add failures are collected and returned together.
func (n *Netlink) Sync(ctx context.Context, name string, ips []string) error {
	err := netlink.IpsetCreate(name, "hash:ip", netlink.IpsetCreateOptions{
		Replace: true,
		Family:  syscall.AF_INET,
	})
	if err != nil {
		return &Error{Set: name, Op: "create", Err: err}
	}
	if err := netlink.IpsetFlush(name); err != nil {
		return &Error{Set: name, Op: "flush", Err: err}
	}

	var errs error
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return &Error{Set: name, Op: "add", Err: err}
		}
		entry := &netlink.IPSetEntry{IP: net.ParseIP(ip).To4()}
		errs = multierr.Append(errs, netlink.IpsetAdd(name, entry))
	}
	if errs != nil {
		return &Error{Set: name, Op: "add", Err: errs}
	}
	n.logger.Debugw("netlink ipset updated", "set", name, "ips", len(ips))
	return nil
}
