// Package source fetches the text a target domain set is extracted from.
// A location is an http(s) URL, a local file path, or "-" for stdin.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lc/dnscacher/internal/buildinfo"
	"github.com/lc/dnscacher/internal/domains"
)

// DefaultTimeout bounds a remote fetch, including reading the body.
const DefaultTimeout = 2 * time.Minute

// Stdin is the location that reads standard input.
const Stdin = "-"

// ErrEmptyLocation is returned for an empty source location.
var ErrEmptyLocation = errors.New("empty source location")

// UnavailableError reports a source that could not be opened or read.
type UnavailableError struct {
	Location string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Location, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Provider opens a domain source.
type Provider interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

var _ Provider = (*Fetcher)(nil)

// Fetcher opens URLs over HTTP and everything else from disk.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	Stdin     io.Reader
}

// Opt configures a Fetcher.
type Opt func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Opt {
	return func(f *Fetcher) { f.Client = c }
}

// WithStdin replaces the reader used for the "-" location.
func WithStdin(r io.Reader) Opt {
	return func(f *Fetcher) { f.Stdin = r }
}

// NewFetcher returns a Fetcher with a DefaultTimeout HTTP client.
func NewFetcher(opts ...Opt) *Fetcher {
	f := &Fetcher{
		Client:    &http.Client{Timeout: DefaultTimeout},
		UserAgent: buildinfo.UserAgent(),
		Stdin:     os.Stdin,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Open returns the content at location. Failures are *UnavailableError.
func (f *Fetcher) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return nil, &UnavailableError{Location: location, Err: ErrEmptyLocation}
	case location == Stdin:
		return io.NopCloser(f.Stdin), nil
	case isURL(location):
		return f.get(ctx, location)
	default:
		file, err := os.Open(location)
		if err != nil {
			return nil, &UnavailableError{Location: location, Err: err}
		}
		return file, nil
	}
}

func (f *Fetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UnavailableError{Location: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Location: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &UnavailableError{Location: url, Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}
	return resp.Body, nil
}

func isURL(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Load opens location through p and extracts its domains.
func Load(ctx context.Context, p Provider, location string) (domains.Set, error) {
	rc, err := p.Open(ctx, location)
	if err != nil {
		var ue *UnavailableError
		if errors.As(err, &ue) {
			return domains.Set{}, err
		}
		return domains.Set{}, &UnavailableError{Location: location, Err: err}
	}
	defer rc.Close()

	set, err := domains.Extract(rc)
	if err != nil {
		return domains.Set{}, &UnavailableError{Location: location, Err: err}
	}
	return set, nil
}

// Static is a Provider serving fixed text for every location.
type Static string

// Open returns the text.
func (s Static) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(s))), nil
}
