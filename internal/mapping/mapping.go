// Package mapping holds the domain → IPv4 table dnscacher maintains and the
// store that persists it between runs.
package mapping

import (
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/lc/dnscacher/internal/domains"
)

// DefaultExcluded are sentinel addresses that are never recorded as results.
var DefaultExcluded = []string{"0.0.0.0", "127.0.0.1"}

// Mapping is a table from domain to its resolved IPv4 addresses. A domain in
// the table always has a list, possibly empty. Mapping is safe for
// concurrent use.
type Mapping struct {
	mu      sync.RWMutex        // protects entries
	entries map[string][]string // domain -> ips in resolver order
	count   atomic.Int64
}

// New returns an empty Mapping.
func New() *Mapping {
	return &Mapping{entries: make(map[string][]string)}
}

// FromMap builds a Mapping from a plain map. The slices are copied.
func FromMap(src map[string][]string) *Mapping {
	m := New()
	for d, ips := range src {
		m.Set(d, ips)
	}
	return m
}

// Set stores ips for domain, replacing any previous list.
func (m *Mapping) Set(domain string, ips []string) {
	cp := make([]string, len(ips))
	copy(cp, ips)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[domain]; !ok {
		m.count.Inc()
	}
	m.entries[domain] = cp
}

// Get returns a copy of the addresses stored for domain.
func (m *Mapping) Get(domain string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ips, ok := m.entries[domain]
	if !ok {
		return nil, false
	}
	cp := make([]string, len(ips))
	copy(cp, ips)
	return cp, true
}

// Has reports whether domain is in the table.
func (m *Mapping) Has(domain string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[domain]
	return ok
}

// Remove deletes domain. Removing an absent domain is a no-op.
func (m *Mapping) Remove(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[domain]; ok {
		delete(m.entries, domain)
		m.count.Dec()
	}
}

// RemoveAll deletes every member of set and returns how many were present.
func (m *Mapping) RemoveAll(set domains.Set) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	set.Each(func(d string) {
		if _, ok := m.entries[d]; ok {
			delete(m.entries, d)
			removed++
		}
	})
	m.count.Sub(int64(removed))
	return removed
}

// Merge copies every entry of other into m, overwriting existing domains.
func (m *Mapping) Merge(other *Mapping) {
	if other == nil || other == m {
		return
	}
	for d, ips := range other.Entries() {
		m.Set(d, ips)
	}
}

// Len returns the number of domains.
func (m *Mapping) Len() int {
	return int(m.count.Load())
}

// Unresolved returns the number of domains with an empty address list.
func (m *Mapping) Unresolved() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ips := range m.entries {
		if len(ips) == 0 {
			n++
		}
	}
	return n
}

// Domains returns every key as a set.
func (m *Mapping) Domains() domains.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := domains.New()
	for d := range m.entries {
		s.Add(d)
	}
	return s
}

// IPs returns the deduplicated union of every address list, sorted.
func (m *Mapping) IPs() []string {
	m.mu.RLock()
	seen := make(map[string]struct{})
	for _, ips := range m.entries {
		for _, ip := range ips {
			seen[ip] = struct{}{}
		}
	}
	m.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for ip := range seen {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out
}

// Entries returns a deep copy of the table.
func (m *Mapping) Entries() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(m.entries))
	for d, ips := range m.entries {
		cp := make([]string, len(ips))
		copy(cp, ips)
		out[d] = cp
	}
	return out
}

// Sorted returns the domains in lexical order.
func (m *Mapping) Sorted() []string {
	return m.Domains().Sorted()
}

// Equal reports whether m and o hold the same domains with the same
// address lists in the same order.
func (m *Mapping) Equal(o *Mapping) bool {
	a, b := m.Entries(), o.Entries()
	if len(a) != len(b) {
		return false
	}
	for d, ips := range a {
		other, ok := b[d]
		if !ok || len(other) != len(ips) {
			return false
		}
		for i := range ips {
			if ips[i] != other[i] {
				return false
			}
		}
	}
	return true
}

// FilterIPs returns ips without the members of excluded, keeping order.
func FilterIPs(ips []string, excluded map[string]struct{}) []string {
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if _, skip := excluded[ip]; skip {
			continue
		}
		out = append(out, ip)
	}
	return out
}

// ExcludedSet turns a list of addresses into a lookup set.
func ExcludedSet(ips ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return set
}
