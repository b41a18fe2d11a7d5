// Command `dnscacher` keeps a persistent cache of domain to IPv4 mappings in
// step with a blocklist and feeds the addresses to an ipset.
//
// Each run resolves only what changed: domains new to the source are looked
// up, a random share of the retained ones is refreshed and domains that left
// the source are dropped.
//
// Usage:
//
//	dnscacher update <source>   - Reconcile the cache with a source and print it
//	dnscacher add <source>      - Resolve only the domains missing from the cache
//	dnscacher refresh           - Re-resolve a share of the cached domains
//	dnscacher get               - Print the cache
//	dnscacher ipset             - Load the cached addresses into an ipset
//	dnscacher stats             - Summarise the cache
//
// A source is an http(s) URL, a file path or "-" for stdin.
//
// Examples:
//
//	dnscacher update https://example.com/hosts -o ips
//	dnscacher update hosts.txt -p 10 -j 500 --ipset-sync
//	dnscacher ipset --block --persist
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lc/dnscacher/internal/config"
	"github.com/lc/dnscacher/internal/firewall"
	"github.com/lc/dnscacher/internal/log"
	"github.com/lc/dnscacher/internal/mapping"
	"github.com/lc/dnscacher/internal/output"
	"github.com/lc/dnscacher/internal/source"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := newApp()
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	if err != nil {
		fail(a.log(), err)
	}
}

// fail logs err and exits 1. Anticipated failures are logged as errors;
// anything else is unexpected and logged at fatal level.
func fail(logger *zap.SugaredLogger, err error) {
	if isExpected(err) {
		logger.Errorw(err.Error())
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Fatalw("unexpected error", "error", err)
}

func isExpected(err error) bool {
	var (
		ice *mapping.InvalidCacheError
		ue  *source.UnavailableError
		fe  *firewall.Error
	)
	switch {
	case errors.As(err, &ice), errors.As(err, &ue), errors.As(err, &fe):
		return true
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, mapping.ErrStoreLocked),
		errors.Is(err, output.ErrUnknownKind),
		errors.Is(err, context.Canceled),
		errors.Is(err, errUsage):
		return true
	}
	return false
}

// fallbackLogger is used when the configured logger could not be built.
func fallbackLogger() *zap.SugaredLogger {
	l, err := log.New(log.Options{Level: "info"})
	if err != nil {
		return log.Nop()
	}
	return l
}
