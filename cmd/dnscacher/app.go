package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lc/dnscacher/internal/config"
	"github.com/lc/dnscacher/internal/dnsresolver"
	"github.com/lc/dnscacher/internal/domains"
	"github.com/lc/dnscacher/internal/firewall"
	"github.com/lc/dnscacher/internal/log"
	"github.com/lc/dnscacher/internal/mapping"
	"github.com/lc/dnscacher/internal/metrics"
	"github.com/lc/dnscacher/internal/output"
	"github.com/lc/dnscacher/internal/reconcile"
	"github.com/lc/dnscacher/internal/resolve"
	"github.com/lc/dnscacher/internal/source"
)

// debugSource replaces the domain source when --debug is set.
const debugSource = "example.com example.org"

var errUsage = errors.New("usage error")

// rootFlags are the persistent flags. They override the configuration file
// only when set on the command line.
type rootFlags struct {
	config     string
	output     []string
	jobs       int
	logLevel   string
	mappings   string
	ipset      string
	part       int
	logFile    string
	timeout    time.Duration
	quiet      bool
	debug      bool
	resolvers  []string
	rateLimit  float64
	textfile   string
	noProgress bool
}

// app carries the state shared by the commands of one invocation.
type app struct {
	flags   rootFlags
	cfg     *config.Config
	kinds   []output.Kind
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	stdin   io.Reader
	stderr  io.Writer
	// lookuper replaces the DNS client when set.
	lookuper dnsresolver.Lookuper
	// manager replaces the firewall when set.
	manager firewall.Manager
}

func newApp() *app {
	return &app{
		stdin:  os.Stdin,
		stderr: os.Stderr,
	}
}

func (a *app) log() *zap.SugaredLogger {
	if a.logger == nil {
		return fallbackLogger()
	}
	return a.logger
}

// setup loads the configuration, applies flag overrides and builds the
// logger. It runs before every command.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.New(a.flags.config).Load()
	if err != nil {
		return err
	}
	a.override(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	kinds, err := output.ParseKinds(cfg.Output...)
	if err != nil {
		return err
	}

	logger, err := log.New(log.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Quiet: cfg.Log.Quiet,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	a.cfg = cfg
	a.kinds = kinds
	a.logger = logger
	a.metrics = metrics.New()
	return nil
}

func (a *app) override(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.Output = a.flags.output
	}
	if f.Changed("jobs") {
		cfg.Resolve.Jobs = a.flags.jobs
	}
	if f.Changed("loglevel") {
		cfg.Log.Level = a.flags.logLevel
	}
	if f.Changed("debug") && a.flags.debug {
		cfg.Log.Level = "debug"
	}
	if f.Changed("mappings") {
		cfg.Mappings = a.flags.mappings
	}
	if f.Changed("ipset") {
		cfg.IPSet.Name = a.flags.ipset
	}
	if f.Changed("part") {
		cfg.Resolve.Part = a.flags.part
	}
	if f.Changed("log") {
		cfg.Log.File = a.flags.logFile
	}
	if f.Changed("timeout") {
		cfg.Resolve.Timeout = config.Duration(a.flags.timeout)
	}
	if f.Changed("quiet") {
		cfg.Log.Quiet = a.flags.quiet
	}
	if f.Changed("resolver") {
		cfg.Resolve.Resolvers = a.flags.resolvers
	}
	if f.Changed("rate-limit") {
		cfg.Resolve.RateLimit = a.flags.rateLimit
	}
	if f.Changed("metrics-textfile") {
		cfg.Metrics.Textfile = a.flags.textfile
	}
}

func (a *app) store() *mapping.Store {
	return mapping.NewStore(a.cfg.Mappings, mapping.WithLogger(a.logger))
}

func (a *app) resolver() *resolve.Resolver {
	rc := a.cfg.Resolve
	l := a.lookuper
	if l == nil {
		opts := []dnsresolver.Opt{dnsresolver.WithNetwork(rc.Network)}
		if len(rc.Resolvers) > 0 {
			opts = append(opts, dnsresolver.WithResolvers(rc.Resolvers))
		}
		l = dnsresolver.New(rc.Timeout.Std(), opts...)
	}

	opts := []resolve.Option{
		resolve.WithJobs(rc.Jobs),
		resolve.WithTimeout(rc.Timeout.Std()),
		resolve.WithRateLimit(rc.RateLimit),
		resolve.WithLogger(a.logger),
	}
	if !a.cfg.Log.Quiet && !a.flags.noProgress {
		opts = append(opts, resolve.WithProgress(newProgress(a.stderr, time.Second).update))
	}
	return resolve.New(l, opts...)
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.New(a.store(), a.resolver(),
		reconcile.WithPart(a.cfg.Resolve.Part),
		reconcile.WithLogger(a.logger),
		reconcile.WithMetrics(a.metrics),
	)
}

func (a *app) firewall() (firewall.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	opts := []firewall.Opt{
		firewall.WithLogger(a.logger),
		firewall.WithRulesFile(a.cfg.IPSet.RulesFile),
	}
	if a.cfg.IPSet.Backend == "netlink" {
		nl, err := firewall.NewNetlink(a.logger)
		if err != nil {
			return nil, &firewall.Error{Set: a.cfg.IPSet.Name, Op: "init", Err: err}
		}
		opts = append(opts, firewall.WithSetBackend(nl))
	}
	return firewall.New(opts...), nil
}

// target reads the domain set from location, or the built-in list in debug
// mode.
func (a *app) target(ctx context.Context, args []string) (domains.Set, error) {
	if a.flags.debug {
		return source.Load(ctx, source.Static(debugSource), "debug")
	}
	if len(args) == 0 {
		return domains.Set{}, fmt.Errorf("%w: a source is required", errUsage)
	}
	return source.Load(ctx, source.NewFetcher(source.WithStdin(a.stdin)), args[0])
}

// sync loads the addresses of m into the configured set.
func (a *app) sync(ctx context.Context, m *mapping.Mapping) error {
	fw, err := a.firewall()
	if err != nil {
		return err
	}
	return fw.Sync(ctx, a.cfg.IPSet.Name, m.IPs())
}

func (a *app) render(w io.Writer, m *mapping.Mapping) error {
	return output.Render(w, m, a.kinds, a.cfg.IPSet.Name)
}

// finish writes the metrics textfile. Failing to do so is only logged.
func (a *app) finish() {
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warnw("writing metrics", "error", err)
	}
}
