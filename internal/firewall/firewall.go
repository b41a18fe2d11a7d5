// Package firewall loads resolved addresses into a kernel IP set and installs
// the iptables rule that drops traffic from it. Failures here never affect the
// persisted mapping; callers report them and carry on.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/coreos/go-iptables/iptables"
	"go.uber.org/zap"

	"github.com/lc/dnscacher/internal/filesys"
	"github.com/lc/dnscacher/internal/log"
)

const (
	filterTable = "filter"
	inputChain  = "INPUT"
	// DefaultRulesFile is where Block persists the ruleset.
	DefaultRulesFile = "/etc/iptables/iptables.rules"
)

// ErrUnsupported is returned by backends unavailable on this platform.
var ErrUnsupported = errors.New("not supported on this platform")

// Error reports a failed firewall operation on a set.
type Error struct {
	Set string
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ipset %s: %s: %v", e.Set, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Manager applies addresses to a named set and blocks it.
type Manager interface {
	// Sync makes the set hold exactly ips, creating it when missing.
	Sync(ctx context.Context, name string, ips []string) error
	// Block drops inbound packets whose source is in the set. With persist
	// the ruleset is also saved for the next boot.
	Block(ctx context.Context, name string, persist bool) error
}

// SetBackend replaces the content of a hash:ip set.
type SetBackend interface {
	Sync(ctx context.Context, name string, ips []string) error
}

// RuleTable is the part of *iptables.IPTables Block needs.
type RuleTable interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Insert(table, chain string, pos int, rulespec ...string) error
}

var (
	_ Manager   = (*Firewall)(nil)
	_ RuleTable = (*iptables.IPTables)(nil)
)

// Firewall implements Manager on top of a SetBackend and iptables.
type Firewall struct {
	sets      SetBackend
	rules     func() (RuleTable, error)
	runner    Runner
	fs        filesys.FileOps
	rulesFile string
	logger    *zap.SugaredLogger
}

// Opt configures a Firewall.
type Opt func(*Firewall)

// WithSetBackend replaces the set backend. The default is the ipset binary.
func WithSetBackend(b SetBackend) Opt {
	return func(f *Firewall) { f.sets = b }
}

// WithRuleTable replaces the iptables handle.
func WithRuleTable(t RuleTable) Opt {
	return func(f *Firewall) {
		f.rules = func() (RuleTable, error) { return t, nil }
	}
}

// WithRunner replaces the command runner used for iptables-save and the
// default set backend.
func WithRunner(r Runner) Opt {
	return func(f *Firewall) { f.runner = r }
}

// WithFS replaces the filesystem the rules file is written to.
func WithFS(fs filesys.FileOps) Opt {
	return func(f *Firewall) { f.fs = fs }
}

// WithRulesFile sets where Block persists the ruleset.
func WithRulesFile(path string) Opt {
	return func(f *Firewall) {
		if path != "" {
			f.rulesFile = path
		}
	}
}

// WithLogger sets the firewall logger.
func WithLogger(l *zap.SugaredLogger) Opt {
	return func(f *Firewall) { f.logger = l }
}

// New returns a Firewall. Without options it drives the ipset and iptables
// binaries.
func New(opts ...Opt) *Firewall {
	f := &Firewall{
		runner:    ExecRunner{},
		fs:        filesys.OS(),
		rulesFile: DefaultRulesFile,
		rules: func() (RuleTable, error) {
			return iptables.NewWithProtocol(iptables.ProtocolIPv4)
		},
	}
	for _, o := range opts {
		o(f)
	}
	f.logger = log.OrNop(f.logger)
	if f.sets == nil {
		f.sets = NewIPSet(f.runner, f.logger)
	}
	return f
}

// Sync loads ips into the set called name. Entries that are not IPv4
// addresses are skipped.
func (f *Firewall) Sync(ctx context.Context, name string, ips []string) error {
	valid := make([]string, 0, len(ips))
	for _, ip := range ips {
		if p := net.ParseIP(ip); p == nil || p.To4() == nil {
			f.logger.Warnw("skipping invalid address", "set", name, "ip", ip)
			continue
		}
		valid = append(valid, ip)
	}

	if err := f.sets.Sync(ctx, name, valid); err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return err
		}
		return &Error{Set: name, Op: "sync", Err: err}
	}
	f.logger.Infow("ipset updated", "set", name, "ips", len(valid))
	return nil
}

// Block inserts "-m set --match-set name src -j DROP" at the top of the
// INPUT chain unless it is already present.
func (f *Firewall) Block(ctx context.Context, name string, persist bool) error {
	ipt, err := f.rules()
	if err != nil {
		return &Error{Set: name, Op: "block", Err: err}
	}

	spec := DropRule(name)
	exists, err := ipt.Exists(filterTable, inputChain, spec...)
	if err != nil {
		return &Error{Set: name, Op: "block", Err: err}
	}
	if exists {
		f.logger.Infow("block rule already present", "set", name)
	} else {
		if err := ipt.Insert(filterTable, inputChain, 1, spec...); err != nil {
			return &Error{Set: name, Op: "block", Err: err}
		}
		f.logger.Infow("blocked ipset", "set", name)
	}

	if !persist {
		return nil
	}
	return f.persist(ctx, name)
}

func (f *Firewall) persist(ctx context.Context, name string) error {
	out, err := f.runner.Run(ctx, nil, "iptables-save")
	if err != nil {
		return &Error{Set: name, Op: "persist", Err: err}
	}
	if err := filesys.AtomicWrite(f.fs, f.rulesFile, out, 0o644); err != nil {
		return &Error{Set: name, Op: "persist", Err: err}
	}
	f.logger.Infow("saved iptables rules", "path", f.rulesFile)
	return nil
}

// DropRule is the rulespec Block installs for set name.
func DropRule(name string) []string {
	return []string{"-m", "set", "--match-set", name, "src", "-j", "DROP"}
}
