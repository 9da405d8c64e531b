package pane

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/width"
	"golang.org/x/time/rate"

	"github.com/nyasuto/hive/internal/hivelog"
	"github.com/nyasuto/hive/internal/subsystem"
)

var log = hivelog.Get("pane")

// DaemonState is the lifecycle state of a supervised interactive worker.
type DaemonState string

const (
	StateAbsent   DaemonState = "Absent"
	StateStarting DaemonState = "Starting"
	StateRunning  DaemonState = "Running"
	StateStopped  DaemonState = "Stopped"
)

// Stats is the per-daemon statistics block.
type Stats struct {
	StartedAt     time.Time
	CommandCount  int
	ErrorCount    int
	LastHeartbeat time.Time
	Status        DaemonState
}

// Config governs polling cadence and ready/terminator detection.
type Config struct {
	ReadyTokens         []string
	ResponseTerminators []string
	CaptureTailLines    int
	// CaptureRateLimit bounds how often the pane is polled regardless of
	// caller retry pattern.
	CaptureRateLimit rate.Limit
}

// DefaultConfig mirrors spec.md's suggested defaults.
func DefaultConfig() Config {
	return Config{
		ReadyTokens:         []string{"claude", ">"},
		ResponseTerminators: []string{"$", ">"},
		CaptureTailLines:    200,
		CaptureRateLimit:    rate.Every(200 * time.Millisecond),
	}
}

// Transport supervises a set of named panes backed by a Multiplexer. It
// embeds subsystem.Base to track whether it is running: EnsureSession and
// DestroySession are the Start/Stop pair. Repeated EnsureSession or
// DestroySession calls are tolerated rather than rejected.
type Transport struct {
	subsystem.Base

	mux     Multiplexer
	cfg     Config
	limiter *rate.Limiter

	mu     sync.Mutex
	panes  map[string]string // logical name -> pane handle
	states map[string]Stats
}

// New returns a Transport driving mux with cfg.
func New(mux Multiplexer, cfg Config) *Transport {
	return &Transport{
		mux:     mux,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.CaptureRateLimit, 1),
		panes:   make(map[string]string),
		states:  make(map[string]Stats),
	}
}

// EnsureSession creates session with one window per logical pane name if
// it does not already have a handle for each. The first successful call
// transitions the Transport into the running state; later calls (adding
// more panes to an already-running transport) are expected to observe
// ErrAlreadyStarted from TryStart and simply proceed.
func (t *Transport) EnsureSession(ctx context.Context, session string, panes []string) error {
	startErr := t.Base.TryStart()
	if startErr != nil && !errors.Is(startErr, subsystem.ErrAlreadyStarted) {
		return errors.Wrap(startErr, "pane: starting transport")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	missing := make([]string, 0, len(panes))
	for _, p := range panes {
		if _, ok := t.panes[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	handles, err := t.mux.NewSession(ctx, session, panes)
	if err != nil {
		if startErr == nil {
			_ = t.Base.TryStop()
		}
		return errors.Wrapf(err, "pane: ensuring session %s", session)
	}
	for logical, handle := range handles {
		t.panes[logical] = handle
		t.states[logical] = Stats{Status: StateAbsent}
	}
	return nil
}

// DestroySession kills session and forgets its panes. Once no panes
// remain under supervision, the Transport transitions back to stopped
// so a later EnsureSession can restart it cleanly.
func (t *Transport) DestroySession(ctx context.Context, session string) error {
	if err := t.mux.KillSession(ctx, session); err != nil {
		return errors.Wrapf(err, "pane: destroying session %s", session)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for logical, handle := range t.panes {
		if strings.HasPrefix(handle, session+":") {
			delete(t.panes, logical)
			delete(t.states, logical)
		}
	}
	if len(t.panes) == 0 {
		if err := t.Base.TryStop(); err != nil && !errors.Is(err, subsystem.ErrNotStarted) {
			return errors.Wrap(err, "pane: stopping transport")
		}
	}
	return nil
}

func (t *Transport) handle(pane string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.panes[pane]
	if !ok {
		return "", errors.Errorf("pane: unknown pane %q", pane)
	}
	return h, nil
}

// SendLine writes text followed by a newline into pane. Failure is a
// hard error to the caller.
func (t *Transport) SendLine(ctx context.Context, pane, text string) error {
	h, err := t.handle(pane)
	if err != nil {
		return err
	}
	if err := t.mux.SendLine(ctx, h, text); err != nil {
		t.bumpError(pane)
		return errors.Wrapf(err, "pane: send-line to %s", pane)
	}
	t.bumpCommand(pane)
	return nil
}

// SendKeys writes a raw key sequence into pane with no trailing newline.
func (t *Transport) SendKeys(ctx context.Context, pane, keys string) error {
	h, err := t.handle(pane)
	if err != nil {
		return err
	}
	if err := t.mux.SendKeys(ctx, h, keys); err != nil {
		t.bumpError(pane)
		return errors.Wrapf(err, "pane: send-keys to %s", pane)
	}
	return nil
}

// Capture returns the last tailLines lines of pane's scrollback,
// normalized (full-width artifacts folded, trailing newline trimmed).
func (t *Transport) Capture(ctx context.Context, pane string, tailLines int) (string, error) {
	h, err := t.handle(pane)
	if err != nil {
		return "", err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "pane: capture rate limiter")
	}
	raw, err := t.mux.CapturePane(ctx, h, tailLines)
	if err != nil {
		return "", errors.Wrapf(err, "pane: capture %s", pane)
	}
	return normalize(raw), nil
}

func normalize(s string) string {
	folded := width.Fold.String(s)
	return strings.TrimRight(folded, "\n")
}

func (t *Transport) bumpCommand(pane string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[pane]
	st.CommandCount++
	t.states[pane] = st
}

func (t *Transport) bumpError(pane string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[pane]
	st.ErrorCount++
	t.states[pane] = st
}

func (t *Transport) setState(pane string, s DaemonState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[pane]
	st.Status = s
	t.states[pane] = st
}

// Status returns a snapshot of pane's statistics.
func (t *Transport) Status(pane string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[pane]
}

func (t *Transport) containsAny(text string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}
