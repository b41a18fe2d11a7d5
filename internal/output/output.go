// Package output renders a mapping in the textual forms dnscacher prints.
package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lc/dnscacher/internal/mapping"
)

// Kind selects one rendering of a mapping.
type Kind string

const (
	// IPs prints every distinct address, one per line.
	IPs Kind = "ips"
	// Domains prints every domain, one per line.
	Domains Kind = "domains"
	// Mappings prints "domain ip ip ..." per line.
	Mappings Kind = "mappings"
	// IPSet prints "add <set> <ip>" lines for ipset restore.
	IPSet Kind = "ipset"
)

// ErrUnknownKind is returned by ParseKinds for an unsupported value.
var ErrUnknownKind = errors.New("unknown output kind")

// Kinds lists every supported Kind.
var Kinds = []Kind{IPs, Domains, Mappings, IPSet}

type renderFunc func(w *bufio.Writer, m *mapping.Mapping, setName string) error

var renderers = map[Kind]renderFunc{
	IPs:      renderIPs,
	Domains:  renderDomains,
	Mappings: renderMappings,
	IPSet:    renderIPSet,
}

// ParseKinds parses repeated and comma-separated kind names, keeping order
// and dropping duplicates.
func ParseKinds(values ...string) ([]Kind, error) {
	var (
		kinds []Kind
		seen  = make(map[Kind]struct{})
	)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			k := Kind(part)
			if _, ok := renderers[k]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownKind, part)
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// Render writes the requested renderings of m to w in order, one line per
// item. Sections follow each other directly.
func Render(w io.Writer, m *mapping.Mapping, kinds []Kind, setName string) error {
	bw := bufio.NewWriter(w)
	for _, k := range kinds {
		fn, ok := renderers[k]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownKind, k)
		}
		if err := fn(bw, m, setName); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func renderIPs(w *bufio.Writer, m *mapping.Mapping, _ string) error {
	for _, ip := range m.IPs() {
		if _, err := fmt.Fprintln(w, ip); err != nil {
			return err
		}
	}
	return nil
}

func renderDomains(w *bufio.Writer, m *mapping.Mapping, _ string) error {
	for _, d := range m.Sorted() {
		if _, err := fmt.Fprintln(w, d); err != nil {
			return err
		}
	}
	return nil
}

func renderMappings(w *bufio.Writer, m *mapping.Mapping, _ string) error {
	entries := m.Entries()
	for _, d := range m.Sorted() {
		ips, ok := entries[d]
		if !ok {
			continue
		}
		line := d
		if len(ips) > 0 {
			line += " " + strings.Join(ips, " ")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func renderIPSet(w *bufio.Writer, m *mapping.Mapping, setName string) error {
	for _, ip := range m.IPs() {
		if _, err := fmt.Fprintf(w, "add %s %s\n", setName, ip); err != nil {
			return err
		}
	}
	return nil
}
