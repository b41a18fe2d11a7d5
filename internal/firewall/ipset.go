package firewall

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/lc/dnscacher/internal/log"
)

const ipsetCommand = "ipset"

// Runner runs an external command, feeding it stdin when non-nil, and
// returns its standard output.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// Run executes name with args. On failure the error carries stderr.
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("failed to find %s command: %w", name, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

var _ SetBackend = (*IPSet)(nil)

// IPSet is a SetBackend driving the ipset binary.
type IPSet struct {
	runner Runner
	logger *zap.SugaredLogger
}

// NewIPSet returns an IPSet running commands through r.
func NewIPSet(r Runner, l *zap.SugaredLogger) *IPSet {
	if r == nil {
		r = ExecRunner{}
	}
	return &IPSet{runner: r, logger: log.OrNop(l)}
}

// Sync creates the set if needed, then flushes and refills it in a single
// "ipset restore" transaction.
func (s *IPSet) Sync(ctx context.Context, name string, ips []string) error {
	if _, err := s.runner.Run(ctx, nil, ipsetCommand, "create", name, "hash:ip", "family", "inet", "-exist"); err != nil {
		return &Error{Set: name, Op: "create", Err: err}
	}

	if _, err := s.runner.Run(ctx, strings.NewReader(RestoreScript(name, ips)), ipsetCommand, "restore", "-exist"); err != nil {
		return &Error{Set: name, Op: "restore", Err: err}
	}
	s.logger.Debugw("ipset restore finished", "set", name, "ips", len(ips))
	return nil
}

// RestoreScript is the "ipset restore" input replacing the members of name.
func RestoreScript(name string, ips []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "flush %s\n", name)
	for _, ip := range ips {
		fmt.Fprintf(&b, "add %s %s\n", name, ip)
	}
	return b.String()
}
