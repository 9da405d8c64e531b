package comb

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"

	"github.com/nyasuto/hive/internal/hivelog"
	"github.com/nyasuto/hive/internal/substrate"
)

var log = hivelog.Get("comb")

// ErrExpired is returned by Send when the message's TTL has already
// elapsed at send time.
var ErrExpired = errors.New("comb: message already expired")

// WorkerStats counts a single worker's traffic.
type WorkerStats struct {
	Sent      uint64 `json:"sent"`
	Delivered uint64 `json:"delivered"`
	Expired   uint64 `json:"expired"`
	Failed    uint64 `json:"failed"`
}

// Router is the message router bound to a single substrate root.
type Router struct {
	sub *substrate.Substrate

	mu    sync.RWMutex
	stats map[string]*workerCounters
}

type workerCounters struct {
	sent      atomic.Uint64
	delivered atomic.Uint64
	expired   atomic.Uint64
	failed    atomic.Uint64
}

// New returns a Router backed by sub. Callers are expected to have called
// sub.EnsureStructure already.
func New(sub *substrate.Substrate) *Router {
	return &Router{sub: sub, stats: make(map[string]*workerCounters)}
}

func (r *Router) counters(worker string) *workerCounters {
	r.mu.RLock()
	c, ok := r.stats[worker]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.stats[worker]; ok {
		return c
	}
	c = &workerCounters{}
	r.stats[worker] = c
	return c
}

func newID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Wrap(err, "comb: generating message id")
	}
	return id.String(), nil
}

func (r *Router) inboxPath(to, id string) string {
	return r.sub.Path("comb", "messages", "inbox", fmt.Sprintf("%s_%s.json", to, id))
}

// Send places msg into its recipient's inbox. If msg.ID is empty a new
// UUID is assigned. Returns ErrExpired if the TTL has already elapsed.
func (r *Router) Send(msg Message) (Message, error) {
	now := time.Now()
	if msg.ID == "" {
		id, err := newID()
		if err != nil {
			return Message{}, err
		}
		msg.ID = id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	counters := r.counters(msg.From)

	if msg.Expired(now) {
		counters.failed.Inc()
		return Message{}, ErrExpired
	}

	if err := r.sub.WriteJSON(r.inboxPath(msg.To, msg.ID), msg); err != nil {
		counters.failed.Inc()
		return Message{}, errors.Wrap(err, "comb: writing inbox message")
	}

	counters.sent.Inc()
	log.Debug("sent", "from", msg.From, "to", msg.To, "kind", msg.Kind, "id", msg.ID)
	return msg, nil
}

// Receive atomically collects every eligible message addressed to
// worker, ordered by descending priority then ascending CreatedAt, and
// moves each delivered file to sent/.
func (r *Router) Receive(worker string) ([]Message, error) {
	names, err := r.sub.List(r.sub.Path("comb", "messages", "inbox"), worker+"_*.json")
	if err != nil {
		return nil, errors.Wrap(err, "comb: listing inbox")
	}

	now := time.Now()
	var out []Message
	for _, name := range names {
		src := r.sub.Path("comb", "messages", "inbox", name)

		var msg Message
		ok, err := r.sub.ReadJSON(src, &msg)
		if err != nil {
			return out, errors.Wrapf(err, "comb: reading %s", src)
		}
		if !ok {
			log.Warn("skipping malformed inbox file", "path", src)
			continue
		}
		if msg.To != worker {
			continue
		}
		if msg.Expired(now) {
			continue
		}

		dst := r.sub.Path("comb", "messages", "sent", name)
		if err := r.sub.Move(src, dst); err != nil {
			// Lost the race or an fs error: leave it deliverable on the
			// next call rather than failing the whole batch.
			log.Warn("move to sent failed, message remains in inbox", "path", src, "error", err.Error())
			continue
		}

		r.counters(worker).delivered.Inc()
		out = append(out, msg)
	}

	slices.SortFunc(out, func(a, b Message) int {
		if a.Priority != b.Priority {
			if a.Priority > b.Priority {
				return -1
			}
			return 1
		}
		switch {
		case a.CreatedAt.Before(b.CreatedAt):
			return -1
		case a.CreatedAt.After(b.CreatedAt):
			return 1
		default:
			return 0
		}
	})

	return out, nil
}

// Respond constructs a Response to original and sends it.
func (r *Router) Respond(original Message, body any, priority Priority) (Message, error) {
	if priority == 0 {
		priority = PriorityNormal
	}
	return r.Send(Message{
		From:          original.To,
		To:            original.From,
		Kind:          KindResponse,
		Priority:      priority,
		Body:          body,
		ExpiresAt:     time.Now().Add(defaultTTL),
		CorrelationID: original.ID,
	})
}

// Notify sends a Notification from from to to.
func (r *Router) Notify(from, to string, body any, priority Priority) (Message, error) {
	if priority == 0 {
		priority = PriorityNormal
	}
	return r.Send(Message{
		From:      from,
		To:        to,
		Kind:      KindNotification,
		Priority:  priority,
		Body:      body,
		ExpiresAt: time.Now().Add(defaultTTL),
	})
}

// ErrorMessage sends an Error-kind message carrying msg and optional
// details.
func (r *Router) ErrorMessage(from, to, msg string, details any) (Message, error) {
	return r.Send(Message{
		From:     from,
		To:       to,
		Kind:     KindError,
		Priority: PriorityHigh,
		Body: map[string]any{
			"message": msg,
			"details": details,
		},
		ExpiresAt: time.Now().Add(defaultTTL),
	})
}

const defaultTTL = time.Hour

// ReapExpired deletes every message across inbox/sent past its
// expires_at and returns the count removed, aggregating any per-file
// errors rather than aborting the sweep early.
func (r *Router) ReapExpired() (int, error) {
	now := time.Now()
	var (
		removed int
		errs    error
	)

	for _, dir := range []string{"inbox", "sent"} {
		base := r.sub.Path("comb", "messages", dir)
		names, err := r.sub.List(base, "*.json")
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "comb: listing %s", base))
			continue
		}

		for _, name := range names {
			path := filepath.Join(base, name)
			var msg Message
			ok, err := r.sub.ReadJSON(path, &msg)
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "comb: reading %s", path))
				continue
			}
			if !ok || !msg.Expired(now) {
				continue
			}
			if err := r.sub.Delete(path); err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "comb: deleting %s", path))
				continue
			}
			r.counters(msg.To).expired.Inc()
			removed++
		}
	}

	return removed, errs
}

// Stats returns a snapshot of per-worker counters.
func (r *Router) Stats() map[string]WorkerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]WorkerStats, len(r.stats))
	for worker, c := range r.stats {
		out[worker] = WorkerStats{
			Sent:      c.sent.Load(),
			Delivered: c.delivered.Load(),
			Expired:   c.expired.Load(),
			Failed:    c.failed.Load(),
		}
	}
	return out
}
