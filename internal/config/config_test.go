package config_test

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lc/dnscacher/internal/config"
)

type ConfigTestSuite struct {
	suite.Suite
	fs       mockFS
	provider config.Provider
}

type mockFS struct {
	files map[string]string
}

func (m mockFS) Stat(path string) (os.FileInfo, error) {
	if _, ok := m.files[path]; !ok {
		return nil, os.ErrNotExist
	}
	return nil, nil
}

func (m mockFS) MkdirAll(_ string, _ os.FileMode) error {
	return nil
}

func (m mockFS) Open(path string) (*os.File, error) {
	content, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	tmp, err := os.CreateTemp("", "mock-*")
	if err != nil {
		return nil, err
	}
	_ = os.Remove(tmp.Name()) // the open handle keeps the content readable
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, err
	}
	return tmp, nil
}

func (m mockFS) WriteFile(path string, content []byte, _ os.FileMode) error {
	m.files[path] = string(content)
	return nil
}

func (s *ConfigTestSuite) SetupTest() {
	s.fs = mockFS{
		files: make(map[string]string),
	}
	s.provider = config.NewWithPath(s.fs, "test/config.yaml")
}

func (s *ConfigTestSuite) TestLoadDefaultWhenNoFile() {
	// When loading configuration with no file present
	cfg, err := s.provider.Load()

	// Then default configuration should be returned
	s.Require().NoError(err)
	s.Equal(config.DefaultJobs, cfg.Resolve.Jobs)
	s.Equal(config.DefaultTimeout, cfg.Resolve.Timeout.Std())
	s.Equal(config.DefaultPart, cfg.Resolve.Part)
	s.Equal(config.DefaultIPSetName, cfg.IPSet.Name)
	s.Equal("exec", cfg.IPSet.Backend)
	s.Equal([]string{config.DefaultResolver}, cfg.Resolve.Resolvers)
	s.Equal([]string{"mappings"}, cfg.Output)
	s.NotEmpty(cfg.Mappings)
	s.NoError(cfg.Validate())
}

func (s *ConfigTestSuite) TestDefaultPaths() {
	cfg := config.Default()
	if os.Geteuid() == 0 {
		s.Equal("/var/cache/dnscacher/mappings.gob", cfg.Mappings)
		s.Equal("/var/log/dnscacher.log", cfg.Log.File)
		return
	}
	s.Contains(cfg.Mappings, ".cache/dnscacher/mappings.gob")
	s.Contains(cfg.Log.File, ".local/state/dnscacher.log")
}

func (s *ConfigTestSuite) TestLoadValidYAML() {
	// Given a valid config file
	s.fs.files["test/config.yaml"] = `
mappings: /tmp/dnscacher/mappings.gob
output: [ips, ipset]
log:
  level: debug
resolve:
  jobs: 50
  timeout: 2s
  part: 10
  resolvers: [9.9.9.9, "8.8.8.8:5353"]
ipset:
  name: blocklist
  backend: netlink
`
	// When loading configuration
	cfg, err := s.provider.Load()

	// Then custom values should be loaded and the rest kept at defaults
	s.Require().NoError(err)
	s.Equal("/tmp/dnscacher/mappings.gob", cfg.Mappings)
	s.Equal([]string{"ips", "ipset"}, cfg.Output)
	s.Equal("debug", cfg.Log.Level)
	s.Equal(50, cfg.Resolve.Jobs)
	s.Equal(2*time.Second, cfg.Resolve.Timeout.Std())
	s.Equal(10, cfg.Resolve.Part)
	s.Equal([]string{"9.9.9.9", "8.8.8.8:5353"}, cfg.Resolve.Resolvers)
	s.Equal("udp", cfg.Resolve.Network)
	s.Equal("blocklist", cfg.IPSet.Name)
	s.Equal("netlink", cfg.IPSet.Backend)
	s.Equal(config.DefaultRulesFile, cfg.IPSet.RulesFile)
}

func (s *ConfigTestSuite) TestLoadValidTOML() {
	s.fs.files["test/config.toml"] = `
mappings = "/tmp/mappings.gob"

[resolve]
jobs = 25
timeout = "500ms"
part = 0
network = "tcp"

[metrics]
textfile = "/tmp/dnscacher.prom"
`
	cfg, err := config.NewWithPath(s.fs, "test/config.toml").Load()

	s.Require().NoError(err)
	s.Equal("/tmp/mappings.gob", cfg.Mappings)
	s.Equal(25, cfg.Resolve.Jobs)
	s.Equal(500*time.Millisecond, cfg.Resolve.Timeout.Std())
	s.Equal(0, cfg.Resolve.Part)
	s.Equal("tcp", cfg.Resolve.Network)
	s.Equal("/tmp/dnscacher.prom", cfg.Metrics.Textfile)
	s.Equal(config.DefaultIPSetName, cfg.IPSet.Name)
}

func (s *ConfigTestSuite) TestExpandsEnvironment() {
	s.T().Setenv("DNSCACHER_TEST_DIR", "/srv/cache")
	s.fs.files["test/config.yaml"] = "mappings: $DNSCACHER_TEST_DIR/mappings.gob\n"

	cfg, err := s.provider.Load()
	s.Require().NoError(err)
	s.Equal("/srv/cache/mappings.gob", cfg.Mappings)
}

func (s *ConfigTestSuite) TestUnknownFieldRejected() {
	s.fs.files["test/config.yaml"] = "socket:\n  path: /tmp/socket\n"

	_, err := s.provider.Load()
	s.Require().Error(err)
	s.Contains(err.Error(), "decoding config file")
}

func (s *ConfigTestSuite) TestMalformedDuration() {
	s.fs.files["test/config.yaml"] = "resolve:\n  timeout: soon\n"

	_, err := s.provider.Load()
	s.Require().Error(err)
}

func (s *ConfigTestSuite) TestLoadInvalidFile() {
	s.fs.files["test/config.yaml"] = "resolve:\n  part: 101\n"

	_, err := s.provider.Load()
	s.Require().Error(err)
	s.True(errors.Is(err, config.ErrInvalidConfig))
	s.Contains(err.Error(), "resolve.part")
}

func (s *ConfigTestSuite) TestValidation() {
	testCases := []struct {
		name        string
		mutate      func(*config.Config)
		expectedErr string
	}{
		{
			name:        "defaults",
			mutate:      func(*config.Config) {},
			expectedErr: "",
		},
		{
			name:        "zero jobs",
			mutate:      func(c *config.Config) { c.Resolve.Jobs = 0 },
			expectedErr: "resolve.jobs: must be >= 1",
		},
		{
			name:        "part above 100",
			mutate:      func(c *config.Config) { c.Resolve.Part = 101 },
			expectedErr: "resolve.part: must be <= 100",
		},
		{
			name:        "negative part",
			mutate:      func(c *config.Config) { c.Resolve.Part = -1 },
			expectedErr: "resolve.part: must be >= 0",
		},
		{
			name:        "part zero",
			mutate:      func(c *config.Config) { c.Resolve.Part = 0 },
			expectedErr: "",
		},
		{
			name:        "timeout too short",
			mutate:      func(c *config.Config) { c.Resolve.Timeout = config.Duration(time.Millisecond) },
			expectedErr: "resolve.timeout: must be >= 100ms",
		},
		{
			name:        "bad network",
			mutate:      func(c *config.Config) { c.Resolve.Network = "quic" },
			expectedErr: "resolve.network: must be one of: udp tcp",
		},
		{
			name:        "bad resolver",
			mutate:      func(c *config.Config) { c.Resolve.Resolvers = []string{"not a resolver"} },
			expectedErr: "must be an IP address or host:port",
		},
		{
			name:        "empty mappings",
			mutate:      func(c *config.Config) { c.Mappings = "" },
			expectedErr: "mappings: field is required",
		},
		{
			name:        "bad set name",
			mutate:      func(c *config.Config) { c.IPSet.Name = "bad name!" },
			expectedErr: "ipset.name",
		},
		{
			name:        "unknown backend",
			mutate:      func(c *config.Config) { c.IPSet.Backend = "nft" },
			expectedErr: "ipset.backend: must be one of: exec netlink",
		},
		{
			name:        "unknown output",
			mutate:      func(c *config.Config) { c.Output = []string{"json"} },
			expectedErr: "output[0]",
		},
		{
			name:        "unknown level",
			mutate:      func(c *config.Config) { c.Log.Level = "verbose" },
			expectedErr: "log.level",
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			cfg := config.Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.expectedErr == "" {
				s.NoError(err)
				return
			}
			s.Require().Error(err)
			s.ErrorIs(err, config.ErrInvalidConfig)
			s.Contains(err.Error(), tc.expectedErr)
		})
	}
}

func (s *ConfigTestSuite) TestSaveRoundTrip() {
	for _, path := range []string{"out/config.yaml", "out/config.toml"} {
		s.Run(path, func() {
			p := config.NewWithPath(s.fs, path)
			want := config.Default()
			want.Resolve.Jobs = 7
			want.Resolve.Timeout = config.Duration(3 * time.Second)

			s.Require().NoError(p.Save(want))
			s.Contains(s.fs.files, path)

			got, err := p.Load()
			s.Require().NoError(err)
			s.Equal(want, got)
		})
	}
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
