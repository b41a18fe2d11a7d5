package mapping

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lc/dnscacher/internal/filesys"
	"github.com/lc/dnscacher/internal/log"
)

const (
	formatMagic   = "dnscacher"
	formatVersion = 1
	filePerm      = 0o644
	lockSuffix    = ".lock"
	guardSuffix   = ".takeover"
)

// ErrStoreLocked is returned by Lock when another live process holds the store.
var ErrStoreLocked = errors.New("mapping store is locked")

// InvalidCacheError reports a cache file that cannot be read, decoded or
// written. A missing file is not an InvalidCacheError.
type InvalidCacheError struct {
	Path string
	Op   string // "load" or "save"
	Err  error
}

func (e *InvalidCacheError) Error() string {
	return fmt.Sprintf("invalid mappings cache %s (%s): %v", e.Path, e.Op, e.Err)
}

func (e *InvalidCacheError) Unwrap() error { return e.Err }

// envelope is the persisted form of a Mapping.
type envelope struct {
	Magic   string
	Version int
	Entries map[string][]string
}

// Store loads and saves a Mapping at a fixed path.
type Store struct {
	path   string
	fs     filesys.FileOps
	procs  ProcessChecker
	logger *zap.SugaredLogger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithFS replaces the filesystem used by the store.
func WithFS(f filesys.FileOps) StoreOption {
	return func(s *Store) { s.fs = f }
}

// WithProcessChecker replaces the liveness check used for stale locks.
func WithProcessChecker(pc ProcessChecker) StoreOption {
	return func(s *Store) { s.procs = pc }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.SugaredLogger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store persisting to path.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:  path,
		fs:    filesys.OS(),
		procs: &DefaultProcessChecker{},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = log.OrNop(s.logger)
	return s
}

// Path returns the cache file location.
func (s *Store) Path() string { return s.path }

// Load reads the persisted Mapping. A missing file yields an empty Mapping.
func (s *Store) Load() (*Mapping, error) {
	b, err := s.fs.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Infow("no mappings file found", "path", s.path)
			return New(), nil
		}
		return nil, &InvalidCacheError{Path: s.path, Op: "load", Err: err}
	}

	m, err := Decode(b)
	if err != nil {
		return nil, &InvalidCacheError{Path: s.path, Op: "load", Err: err}
	}

	s.logger.Infow("loaded mappings", "path", s.path, "domains", m.Len())
	return m, nil
}

// Save persists m atomically, creating parent directories as needed.
func (s *Store) Save(m *Mapping) error {
	b, err := Encode(m)
	if err != nil {
		return &InvalidCacheError{Path: s.path, Op: "save", Err: err}
	}

	s.logger.Infow("saving mappings", "path", s.path, "domains", m.Len())
	if err := filesys.AtomicWrite(s.fs, s.path, b, filePerm); err != nil {
		return &InvalidCacheError{Path: s.path, Op: "save", Err: err}
	}
	return nil
}

// Lock takes the single-writer lock of the store. The lock is a file next
// to the cache holding the owner's PID; a lock whose owner is no longer
// running is taken over. The returned func releases the lock.
func (s *Store) Lock() (func() error, error) {
	lockPath := s.path + lockSuffix
	if err := s.fs.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := s.fs.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			if werr = multierr.Append(werr, f.Close()); werr != nil {
				return nil, multierr.Append(
					fmt.Errorf("writing lock file %s: %w", lockPath, werr),
					s.fs.Remove(lockPath),
				)
			}
			return func() error {
				if err := s.fs.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("releasing lock %s: %w", lockPath, err)
				}
				return nil
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock file %s: %w", lockPath, err)
		}

		held, err := s.fs.ReadFile(lockPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading lock file %s: %w", lockPath, err)
		}
		if len(bytes.TrimSpace(held)) == 0 {
			// created but not written yet
			return nil, fmt.Errorf("%w: %s has no owner yet, remove it if no run is active", ErrStoreLocked, lockPath)
		}
		if pid, ok := parsePID(held); ok && s.procs.IsRunning(pid) {
			return nil, fmt.Errorf("%w: %s held by pid %d", ErrStoreLocked, lockPath, pid)
		}
		if err := s.removeStale(lockPath, held); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrStoreLocked, lockPath)
}

// removeStale deletes the lock at lockPath if it still holds stale. It runs
// under a guard file, so a process that read the same stale lock earlier
// cannot delete the lock another process has taken since.
func (s *Store) removeStale(lockPath string, stale []byte) (err error) {
	guard := lockPath + guardSuffix
	f, err := s.fs.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if errors.Is(err, fs.ErrExist) {
		if pid, ok := s.guardOwner(guard); ok && !s.procs.IsRunning(pid) {
			s.logger.Warnw("removing abandoned lock guard", "path", guard, "pid", pid)
			if rerr := s.fs.Remove(guard); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
				return fmt.Errorf("removing lock guard %s: %w", guard, rerr)
			}
		}
		return fmt.Errorf("%w: %s is being taken over", ErrStoreLocked, lockPath)
	}
	if err != nil {
		return fmt.Errorf("creating lock guard %s: %w", guard, err)
	}
	defer func() {
		if rerr := s.fs.Remove(guard); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("releasing lock guard %s: %w", guard, rerr))
		}
	}()
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	if werr = multierr.Append(werr, f.Close()); werr != nil {
		return fmt.Errorf("writing lock guard %s: %w", guard, werr)
	}

	current, err := s.fs.ReadFile(lockPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("reading lock file %s: %w", lockPath, err)
	case !bytes.Equal(current, stale):
		return fmt.Errorf("%w: %s was taken by another process", ErrStoreLocked, lockPath)
	}

	s.logger.Warnw("removing stale lock", "path", lockPath)
	if err := s.fs.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale lock %s: %w", lockPath, err)
	}
	return nil
}

func (s *Store) guardOwner(guard string) (int, bool) {
	b, err := s.fs.ReadFile(guard)
	if err != nil {
		return 0, false
	}
	return parsePID(b)
}

func parsePID(b []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Encode serialises m in the cache file format.
func Encode(m *Mapping) ([]byte, error) {
	var buf bytes.Buffer
	env := envelope{
		Magic:   formatMagic,
		Version: formatVersion,
		Entries: m.Entries(),
	}
	if err := gob.NewEncoder(&buf).Encode(&env); err != nil {
		return nil, fmt.Errorf("encoding mappings: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses the cache file format.
func Decode(b []byte) (*Mapping, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding mappings: %w", err)
	}
	if env.Magic != formatMagic {
		return nil, fmt.Errorf("decoding mappings: unexpected header %q", env.Magic)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("decoding mappings: unsupported version %d", env.Version)
	}
	return FromMap(env.Entries), nil
}
