// Package config provides configuration management for dnscacher.
//
// The package uses a Provider interface to abstract configuration loading, with the
// primary implementation being filesystem-based configuration. Files ending in
// .toml are read as TOML, anything else as YAML.
//
// # Configuration Structure
//
//	mappings: /var/cache/dnscacher/mappings.gob
//	output: [mappings]              # ips, domains, mappings, ipset
//	log:
//	  level: info
//	  file: /var/log/dnscacher.log
//	  quiet: false
//	resolve:
//	  jobs: 10000                   # lookups in flight
//	  timeout: 10s                  # per lookup
//	  part: 100                     # percent of retained domains refreshed per run
//	  resolvers: [1.1.1.1:53]
//	  network: udp
//	  rate_limit: 0                 # queries per second, 0 is unlimited
//	ipset:
//	  name: dnscacher
//	  backend: exec                 # exec or netlink
//	  rules_file: /etc/iptables/iptables.rules
//	metrics:
//	  textfile: ""
//
// # Default Configuration
//
// If no configuration file exists the defaults above are used. For a non-root
// user the mapping file lives in ~/.cache/dnscacher/mappings.gob and the log in
// ~/.local/state/dnscacher.log. Values missing from a file keep their default,
// and environment variables in paths are expanded.
//
// # Error Handling
//
//   - ErrInvalidConfig: Configuration validation failed
//   - ErrNoConfig: Configuration file not found (returns defaults)
package config
