// Package substrate owns the on-disk directory layout every other Hive
// component reads and writes through: nectar (tasks), comb (messages and
// coordination primitives), honey (results), and logs. It is the only
// package that touches the filesystem directly — every other component
// routes its persistence through it so locking and crash-safety are
// handled in exactly one place.
package substrate

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nyasuto/hive/internal/hivelog"
)

var log = hivelog.Get("substrate")

// Layout is the fixed subtree every Substrate root contains.
var Layout = []string{
	filepath.Join("nectar", "pending"),
	filepath.Join("nectar", "active"),
	filepath.Join("nectar", "completed"),
	filepath.Join("comb", "messages", "inbox"),
	filepath.Join("comb", "messages", "outbox"),
	filepath.Join("comb", "messages", "sent"),
	filepath.Join("comb", "messages", "failed"),
	filepath.Join("comb", "shared", "locks"),
	filepath.Join("comb", "shared", "barriers"),
	"honey",
	"logs",
}

// ErrLockTimeout is returned by WriteJSON/ReadJSON when the advisory lock
// could not be acquired within the retry budget.
var ErrLockTimeout = errors.New("substrate: lock acquisition timed out")

// Substrate is a handle on a single .hive root directory.
type Substrate struct {
	root string
}

// New returns a Substrate rooted at dir. dir need not exist yet; call
// EnsureStructure to create it.
func New(dir string) *Substrate {
	return &Substrate{root: dir}
}

// Root returns the substrate's root directory.
func (s *Substrate) Root() string { return s.root }

// Path joins elem onto the substrate root.
func (s *Substrate) Path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

// EnsureStructure idempotently creates the fixed subtree.
func (s *Substrate) EnsureStructure() error {
	for _, dir := range Layout {
		full := filepath.Join(s.root, dir)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return errors.Wrapf(err, "substrate: creating %s", full)
		}
	}
	return nil
}

// lockBackoff returns the sleep duration after failed attempt n (1-indexed),
// matching original_source's linear `0.1 * retry_count` schedule: ten
// failed attempts sleep 5.5s in total.
func lockBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 100 * time.Millisecond
}

const maxLockAttempts = 10

// withFileLock opens path (creating it if necessary), acquires a
// non-blocking advisory exclusive flock with a linearly growing backoff, runs fn
// with the open file, and releases the lock on return.
func withFileLock(path string, fn func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "substrate: creating parent dir for %s", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "substrate: opening %s", path)
	}
	defer f.Close()

	var lockErr error
	for attempt := 1; attempt <= maxLockAttempts; attempt++ {
		lockErr = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if lockErr == nil {
			break
		}
		time.Sleep(lockBackoff(attempt))
	}
	if lockErr != nil {
		return errors.Wrapf(ErrLockTimeout, "path=%s", path)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn(f)
}

// WriteJSON acquires the advisory exclusive lock on path, truncates,
// writes v as JSON, flushes, and fsyncs before releasing the lock.
func (s *Substrate) WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "substrate: marshaling json")
	}

	return withFileLock(path, func(f *os.File) error {
		if err := f.Truncate(0); err != nil {
			return errors.Wrapf(err, "substrate: truncating %s", path)
		}
		if _, err := f.WriteAt(data, 0); err != nil {
			return errors.Wrapf(err, "substrate: writing %s", path)
		}
		if err := f.Sync(); err != nil {
			return errors.Wrapf(err, "substrate: fsyncing %s", path)
		}
		return nil
	})
}

// AppendJSONLine acquires the advisory exclusive lock on path, appends v
// marshaled as a single line of JSON followed by a newline, and fsyncs
// before releasing the lock. Used for append-only structural logs (the
// Watch log) where WriteJSON's truncate-and-replace semantics don't
// apply.
func (s *Substrate) AppendJSONLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "substrate: marshaling json line")
	}
	data = append(data, '\n')

	return withFileLock(path, func(f *os.File) error {
		if _, err := f.Seek(0, os.SEEK_END); err != nil {
			return errors.Wrapf(err, "substrate: seeking %s", path)
		}
		if _, err := f.Write(data); err != nil {
			return errors.Wrapf(err, "substrate: appending %s", path)
		}
		if err := f.Sync(); err != nil {
			return errors.Wrapf(err, "substrate: fsyncing %s", path)
		}
		return nil
	})
}

// ReadJSON acquires the lock on path, reads its contents, and unmarshals
// them into v. A missing file, an empty file, or malformed JSON all
// result in (false, nil): ReadJSON never returns an error for bad input,
// only for I/O or locking failures. The bool return reports whether a
// usable value was decoded into v.
func (s *Substrate) ReadJSON(path string, v any) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	var ok bool
	err := withFileLock(path, func(f *os.File) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "substrate: reading %s", path)
		}
		if len(data) == 0 {
			return nil
		}
		if _, dataType, _, perr := jsonparser.Get(data); perr != nil || dataType == jsonparser.NotExist {
			log.Warn("malformed json, skipping", "path", path)
			return nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			log.Warn("malformed json, skipping", "path", path, "error", err.Error())
			return nil
		}
		ok = true
		return nil
	})
	return ok, err
}

// List returns the base names of files in dir matching glob (a
// filepath.Match pattern), best-effort: a missing directory yields an
// empty slice rather than an error.
func (s *Substrate) List(dir, glob string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "substrate: listing %s", dir)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if glob != "" {
			matched, err := filepath.Match(glob, e.Name())
			if err != nil {
				return nil, errors.Wrapf(err, "substrate: bad glob %q", glob)
			}
			if !matched {
				continue
			}
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// Move renames src to dst, creating dst's parent directory if necessary.
func (s *Substrate) Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "substrate: creating parent dir for %s", dst)
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "substrate: moving %s to %s", src, dst)
	}
	return nil
}

// Delete removes path. A missing path is not an error.
func (s *Substrate) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "substrate: deleting %s", path)
	}
	return nil
}
