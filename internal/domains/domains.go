// Package domains provides the normalised domain set used throughout dnscacher:
// named set algebra, uniform random sampling and extraction of hostnames from
// free-form text such as hosts files and blocklists.
package domains

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// ErrInvalidDomain is returned when a name is not a valid hostname.
var ErrInvalidDomain = errors.New("invalid domain")

// hostnameExpr is a hostname: dot separated labels of [a-z0-9] with inner
// hyphens, the last label at least two characters long.
const hostnameExpr = `(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z0-9][a-z0-9-]*[a-z0-9]`

var (
	// hostnamePattern finds hostnames in free text. The hostname is group 1.
	// A match must not continue a longer token, so nothing is taken out of
	// names such as ads_tracker.example.com.
	hostnamePattern = regexp.MustCompile(`(?i)(?:^|[^a-z0-9_.-])(` + hostnameExpr + `)\b`)
	fullHostname    = regexp.MustCompile(`(?i)^` + hostnameExpr + `$`)
)

// Set is a set of normalised domain names. The zero value is an empty set
// ready to use; Add allocates on first insert.
type Set struct {
	m map[string]struct{}
}

// New returns a set holding names as given. Callers are expected to pass
// already normalised names; use Parse for untrusted input.
func New(names ...string) Set {
	s := Set{m: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.m[n] = struct{}{}
	}
	return s
}

// Parse normalises and validates every name and returns them as a set.
func Parse(names ...string) (Set, error) {
	s := Set{m: make(map[string]struct{}, len(names))}
	for _, raw := range names {
		n, err := Normalize(raw)
		if err != nil {
			return Set{}, err
		}
		s.m[n] = struct{}{}
	}
	return s, nil
}

// Normalize lower-cases raw, strips a trailing dot, converts IDNs to their
// ASCII form and checks the result is a hostname.
func Normalize(raw string) (string, error) {
	host := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if host == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidDomain)
	}
	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidDomain, raw, err)
		}
		host = ascii
	}
	host = strings.ToLower(host)
	if !IsHostname(host) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return host, nil
}

// IsHostname reports whether s, in full, is a hostname and not an IP literal.
func IsHostname(s string) bool {
	if len(s) > 253 || net.ParseIP(s) != nil {
		return false
	}
	return fullHostname.MatchString(s)
}

// Add inserts names into s as given.
func (s *Set) Add(names ...string) {
	if s.m == nil {
		s.m = make(map[string]struct{}, len(names))
	}
	for _, n := range names {
		s.m[n] = struct{}{}
	}
}

// Remove deletes name from s. Removing an absent name is a no-op.
func (s Set) Remove(name string) {
	delete(s.m, name)
}

// Has reports whether name is a member of s.
func (s Set) Has(name string) bool {
	_, ok := s.m[name]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s.m)
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s.m))
	for n := range s.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Each calls fn for every member in unspecified order.
func (s Set) Each(fn func(string)) {
	for n := range s.m {
		fn(n)
	}
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	c := Set{m: make(map[string]struct{}, len(s.m))}
	for n := range s.m {
		c.m[n] = struct{}{}
	}
	return c
}

// Equal reports whether s and o hold the same members.
func (s Set) Equal(o Set) bool {
	if len(s.m) != len(o.m) {
		return false
	}
	for n := range s.m {
		if _, ok := o.m[n]; !ok {
			return false
		}
	}
	return true
}

// IsSubsetOf reports whether every member of s is in o.
func (s Set) IsSubsetOf(o Set) bool {
	for n := range s.m {
		if _, ok := o.m[n]; !ok {
			return false
		}
	}
	return true
}

// Difference returns the members of a that are not in b.
func Difference(a, b Set) Set {
	out := Set{m: make(map[string]struct{})}
	for n := range a.m {
		if _, ok := b.m[n]; !ok {
			out.m[n] = struct{}{}
		}
	}
	return out
}

// Intersect returns the members present in both a and b.
func Intersect(a, b Set) Set {
	small, large := a, b
	if len(small.m) > len(large.m) {
		small, large = large, small
	}
	out := Set{m: make(map[string]struct{})}
	for n := range small.m {
		if _, ok := large.m[n]; ok {
			out.m[n] = struct{}{}
		}
	}
	return out
}

// Union returns the members of a and b.
func Union(a, b Set) Set {
	out := Set{m: make(map[string]struct{}, len(a.m)+len(b.m))}
	for n := range a.m {
		out.m[n] = struct{}{}
	}
	for n := range b.m {
		out.m[n] = struct{}{}
	}
	return out
}

// SubsetSize is the number of members RandomSubset picks from a set of n
// members for the given percentage.
func SubsetSize(n, part int) int {
	return n * clampPart(part) / 100
}

// RandomSubset draws floor(len(s)*part/100) members of s uniformly without
// replacement. part is clamped to [0,100]. Members are sampled from their
// sorted order, so a seeded rnd yields a reproducible subset. A nil rnd uses
// the runtime's randomly seeded source.
func RandomSubset(s Set, part int, rnd *rand.Rand) Set {
	k := SubsetSize(len(s.m), part)
	out := Set{m: make(map[string]struct{}, k)}
	if k == 0 {
		return out
	}
	if k == len(s.m) {
		return s.Clone()
	}

	intN := rand.IntN
	if rnd != nil {
		intN = rnd.IntN
	}

	// partial Fisher-Yates: the first k slots end up as the sample
	pool := s.Sorted()
	for i := 0; i < k; i++ {
		j := i + intN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
		out.m[pool[i]] = struct{}{}
	}
	return out
}

func clampPart(part int) int {
	switch {
	case part < 0:
		return 0
	case part > 100:
		return 100
	}
	return part
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
