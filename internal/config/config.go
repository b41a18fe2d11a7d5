package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/lc/dnscacher/internal/filesys"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the configuration file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultJobs is the default number of lookups in flight.
	DefaultJobs = 10000
	// DefaultTimeout is the default per-lookup timeout.
	DefaultTimeout = 10 * time.Second
	// DefaultPart is the default share of retained domains refreshed per run.
	DefaultPart = 100
	// DefaultIPSetName is the default firewall set name.
	DefaultIPSetName = "dnscacher"
	// DefaultResolver is the default upstream resolver.
	DefaultResolver = "1.1.1.1:53"
	// DefaultRulesFile is where persisted firewall rules are written.
	DefaultRulesFile = "/etc/iptables/iptables.rules"
)

// Config holds the application configuration.
type Config struct {
	// Mappings is the path of the persisted mapping file.
	Mappings string        `yaml:"mappings" toml:"mappings" validate:"required"`
	Output   []string      `yaml:"output" toml:"output" validate:"dive,oneof=ips domains mappings ipset"`
	Log      LogConfig     `yaml:"log" toml:"log"`
	Resolve  ResolveConfig `yaml:"resolve" toml:"resolve"`
	IPSet    IPSetConfig   `yaml:"ipset" toml:"ipset"`
	Metrics  MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn warning error critical fatal"`
	File  string `yaml:"file" toml:"file"`
	Quiet bool   `yaml:"quiet" toml:"quiet"`
}

// ResolveConfig holds lookup configuration.
type ResolveConfig struct {
	Jobs      int      `yaml:"jobs" toml:"jobs" validate:"min=1"`
	Timeout   Duration `yaml:"timeout" toml:"timeout" validate:"min=100ms"`
	Part      int      `yaml:"part" toml:"part" validate:"min=0,max=100"`
	Resolvers []string `yaml:"resolvers" toml:"resolvers" validate:"dive,resolver_addr"`
	Network   string   `yaml:"network" toml:"network" validate:"oneof=udp tcp"`
	// RateLimit caps queries per second. 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit" validate:"min=0"`
}

// IPSetConfig holds firewall set configuration.
type IPSetConfig struct {
	Name      string `yaml:"name" toml:"name" validate:"required,max=31,ipset_name"`
	Backend   string `yaml:"backend" toml:"backend" validate:"oneof=exec netlink"`
	RulesFile string `yaml:"rules_file" toml:"rules_file"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Textfile is written for the node_exporter textfile collector. Empty disables it.
	Textfile string `yaml:"textfile" toml:"textfile"`
}

// Duration is a time.Duration read from strings such as "10s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Provider defines the interface for loading configuration.
type Provider interface {
	Load() (*Config, error)
}

// FSProvider implements Provider using the local filesystem.
type FSProvider struct {
	fs   filesys.ReadWriteFS
	path string
}

// Verify FSProvider implements Provider interface.
var _ Provider = (*FSProvider)(nil)

// New creates a configuration provider reading path. An empty path selects
// DefaultPath.
func New(path string) *FSProvider {
	if path == "" {
		path = DefaultPath()
	}
	return NewWithPath(filesys.OS(), path)
}

// NewWithPath creates a new provider with a specific config path.
// It allows specifying both the filesystem implementation and the path to use.
func NewWithPath(fs filesys.ReadWriteFS, path string) *FSProvider {
	return &FSProvider{
		fs:   fs,
		path: path,
	}
}

// Path returns the configuration file location.
func (p *FSProvider) Path() string { return p.path }

// DefaultPath is /etc/dnscacher/config.yaml for root and
// ~/.config/dnscacher/config.yaml otherwise.
func DefaultPath() string {
	if os.Geteuid() == 0 {
		return "/etc/dnscacher/config.yaml"
	}
	return filepath.Join(homeDir(), ".config", "dnscacher", "config.yaml")
}

// Default returns a default configuration with preset values.
// This is used when no configuration file exists.
func Default() *Config {
	return defaultFor(os.Geteuid() == 0, homeDir())
}

func defaultFor(root bool, home string) *Config {
	cfg := &Config{
		Output: []string{"mappings"},
		Log: LogConfig{
			Level: "info",
		},
		Resolve: ResolveConfig{
			Jobs:      DefaultJobs,
			Timeout:   Duration(DefaultTimeout),
			Part:      DefaultPart,
			Resolvers: []string{DefaultResolver},
			Network:   "udp",
		},
		IPSet: IPSetConfig{
			Name:      DefaultIPSetName,
			Backend:   "exec",
			RulesFile: DefaultRulesFile,
		},
	}
	if root {
		cfg.Mappings = "/var/cache/dnscacher/mappings.gob"
		cfg.Log.File = "/var/log/dnscacher.log"
	} else {
		cfg.Mappings = filepath.Join(home, ".cache", "dnscacher", "mappings.gob")
		cfg.Log.File = filepath.Join(home, ".local", "state", "dnscacher.log")
	}
	return cfg
}

// Load loads the configuration from the provider's path. A missing file
// yields Default. Values absent from the file keep their defaults.
func (p *FSProvider) Load() (*Config, error) {
	cfg, err := p.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			cfg = Default()
			cfg.expand()
			return cfg, nil
		}
		return nil, err
	}

	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to the provider's path in the format its extension selects.
func (p *FSProvider) Save(cfg *Config) error {
	b, err := Marshal(cfg, p.path)
	if err != nil {
		return err
	}
	if err := p.fs.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := p.fs.WriteFile(p.path, b, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Marshal encodes cfg as TOML when path ends in .toml and as YAML otherwise.
func Marshal(cfg *Config, path string) ([]byte, error) {
	if isTOML(path) {
		b, err := toml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encoding config: %w", err)
		}
		return b, nil
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return b, nil
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	fi, err := p.fs.Stat(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("checking config file: %w", err)
	}
	if fi != nil && fi.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", p.path)
	}

	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := decode(f, p.path, cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return cfg, nil
}

func decode(r io.Reader, path string, cfg *Config) error {
	if isTOML(path) {
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// expand substitutes environment variables in path settings.
func (c *Config) expand() {
	c.Mappings = os.ExpandEnv(c.Mappings)
	c.Log.File = os.ExpandEnv(c.Log.File)
	c.IPSet.RulesFile = os.ExpandEnv(c.IPSet.RulesFile)
	c.Metrics.Textfile = os.ExpandEnv(c.Metrics.Textfile)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// resolves relative to the working directory
		return ""
	}
	return home
}
