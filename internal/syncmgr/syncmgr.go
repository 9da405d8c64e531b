// Package syncmgr is the named-lock and barrier coordinator (C3): exclusive,
// TTL-bounded, self-reentrant locks and arrival barriers, all durable on
// the filesystem substrate so they survive process death.
package syncmgr

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"

	"github.com/nyasuto/hive/internal/hivelog"
	"github.com/nyasuto/hive/internal/substrate"
)

var log = hivelog.Get("sync")

const (
	pollInterval    = 100 * time.Millisecond
	raceCheckWindow = 10 * time.Millisecond
)

// Lock is the durable record of a claimed resource.
type Lock struct {
	Resource  string    `json:"resource"`
	Holder    string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Mode       string    `json:"mode"`
}

func (l Lock) expired(now time.Time) bool { return now.After(l.ExpiresAt) }

// Barrier tracks workers arriving at a named rendezvous point.
type Barrier struct {
	Name      string    `json:"name"`
	Expected  int       `json:"expected"`
	Arrived   []string  `json:"arrived"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager is the sync manager bound to a single substrate root.
type Manager struct {
	sub *substrate.Substrate

	mu         sync.Mutex
	localLocks map[string]string // resource -> holder
}

// New returns a Manager backed by sub.
func New(sub *substrate.Substrate) *Manager {
	return &Manager{sub: sub, localLocks: make(map[string]string)}
}

func (m *Manager) lockPath(resource string) string {
	return m.sub.Path("comb", "shared", "locks", resource+".json")
}

func (m *Manager) barrierPath(name string) string {
	return m.sub.Path("comb", "shared", "barriers", name+".json")
}

func (m *Manager) isLocalHeld(resource, holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.localLocks[resource]
	return ok && h == holder
}

func (m *Manager) markLocal(resource, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localLocks[resource] = holder
}

func (m *Manager) clearLocal(resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.localLocks, resource)
}

// Acquire attempts to claim resource for holder, retrying until timeout
// elapses. Reacquiring a resource you already hold succeeds immediately
// (reentrant).
func (m *Manager) Acquire(resource, holder string, timeout time.Duration) (bool, error) {
	if m.isLocalHeld(resource, holder) {
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	path := m.lockPath(resource)

	for {
		var existing Lock
		ok, err := m.sub.ReadJSON(path, &existing)
		if err != nil {
			return false, errors.Wrapf(err, "syncmgr: reading lock %s", resource)
		}

		now := time.Now()
		if ok && !existing.expired(now) {
			if existing.Holder == holder {
				m.markLocal(resource, holder)
				return true, nil
			}
			if now.After(deadline) {
				return false, nil
			}
			time.Sleep(pollInterval)
			continue
		}

		candidate := Lock{
			Resource:   resource,
			Holder:     holder,
			AcquiredAt: now,
			ExpiresAt:  now.Add(timeout),
			Mode:       "exclusive",
		}
		if err := m.sub.WriteJSON(path, candidate); err != nil {
			return false, errors.Wrapf(err, "syncmgr: writing lock %s", resource)
		}

		time.Sleep(raceCheckWindow)

		var confirm Lock
		ok, err = m.sub.ReadJSON(path, &confirm)
		if err != nil {
			return false, errors.Wrapf(err, "syncmgr: confirming lock %s", resource)
		}
		if ok && confirm.Holder == holder {
			m.markLocal(resource, holder)
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(pollInterval)
	}
}

// Release releases resource iff holder currently holds it. Releasing a
// lock you do not hold logs a warning and returns false, not an error.
func (m *Manager) Release(resource, holder string) (bool, error) {
	path := m.lockPath(resource)
	var existing Lock
	ok, err := m.sub.ReadJSON(path, &existing)
	if err != nil {
		return false, errors.Wrapf(err, "syncmgr: reading lock %s", resource)
	}
	if !ok || existing.Holder != holder {
		log.Warn("release of unheld lock", "resource", resource, "holder", holder)
		return false, nil
	}

	if err := m.sub.Delete(path); err != nil {
		return false, errors.Wrapf(err, "syncmgr: deleting lock %s", resource)
	}
	m.clearLocal(resource)
	return true, nil
}

// IsLocked reports whether resource currently carries a non-expired
// lock.
func (m *Manager) IsLocked(resource string) (bool, error) {
	var existing Lock
	ok, err := m.sub.ReadJSON(m.lockPath(resource), &existing)
	if err != nil {
		return false, errors.Wrapf(err, "syncmgr: reading lock %s", resource)
	}
	return ok && !existing.expired(time.Now()), nil
}

// Holder returns the current non-expired holder of resource, or "" if
// unlocked.
func (m *Manager) Holder(resource string) (string, error) {
	var existing Lock
	ok, err := m.sub.ReadJSON(m.lockPath(resource), &existing)
	if err != nil {
		return "", errors.Wrapf(err, "syncmgr: reading lock %s", resource)
	}
	if !ok || existing.expired(time.Now()) {
		return "", nil
	}
	return existing.Holder, nil
}

// CreateBarrier creates a named barrier expecting `expected` arrivals.
func (m *Manager) CreateBarrier(name string, expected int) error {
	b := Barrier{Name: name, Expected: expected, CreatedAt: time.Now()}
	if err := m.sub.WriteJSON(m.barrierPath(name), b); err != nil {
		return errors.Wrapf(err, "syncmgr: creating barrier %s", name)
	}
	return nil
}

// WaitAtBarrier registers worker's arrival at name and blocks (polling)
// until every expected arrival has registered or timeout elapses.
func (m *Manager) WaitAtBarrier(name, worker string, timeout time.Duration) (bool, error) {
	path := m.barrierPath(name)
	deadline := time.Now().Add(timeout)

	for {
		var b Barrier
		ok, err := m.sub.ReadJSON(path, &b)
		if err != nil {
			return false, errors.Wrapf(err, "syncmgr: reading barrier %s", name)
		}
		if !ok {
			return false, errors.Errorf("syncmgr: barrier %s does not exist", name)
		}

		if !slices.Contains(b.Arrived, worker) {
			b.Arrived = append(b.Arrived, worker)
			if err := m.sub.WriteJSON(path, b); err != nil {
				return false, errors.Wrapf(err, "syncmgr: updating barrier %s", name)
			}
		}

		if len(b.Arrived) >= b.Expected {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(pollInterval)
	}
}

// RemoveBarrier deletes the named barrier. Missing barriers are not an
// error.
func (m *Manager) RemoveBarrier(name string) error {
	if err := m.sub.Delete(m.barrierPath(name)); err != nil {
		return errors.Wrapf(err, "syncmgr: removing barrier %s", name)
	}
	return nil
}

// ReapExpired deletes every expired lock and returns the count removed.
func (m *Manager) ReapExpired() (int, error) {
	dir := m.sub.Path("comb", "shared", "locks")
	names, err := m.sub.List(dir, "*.json")
	if err != nil {
		return 0, errors.Wrap(err, "syncmgr: listing locks")
	}

	now := time.Now()
	var (
		removed int
		errs    error
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		var l Lock
		ok, err := m.sub.ReadJSON(path, &l)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !ok || !l.expired(now) {
			continue
		}
		if err := m.sub.Delete(path); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		m.clearLocal(l.Resource)
		removed++
	}
	return removed, errs
}

// ForceReleaseBy deletes every lock recorded as held by holder,
// regardless of expiry, and returns the count removed.
func (m *Manager) ForceReleaseBy(holder string) (int, error) {
	dir := m.sub.Path("comb", "shared", "locks")
	names, err := m.sub.List(dir, "*.json")
	if err != nil {
		return 0, errors.Wrap(err, "syncmgr: listing locks")
	}

	var (
		removed int
		errs    error
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		var l Lock
		ok, err := m.sub.ReadJSON(path, &l)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !ok || l.Holder != holder {
			continue
		}
		if err := m.sub.Delete(path); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		m.clearLocal(l.Resource)
		removed++
	}
	return removed, errs
}
