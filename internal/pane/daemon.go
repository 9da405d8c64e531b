package pane

import (
	"context"
	"time"
)

// CommandResult is the outcome of an awaited command.
type CommandResult struct {
	Response string
	OK       bool
}

const (
	daemonPollInterval   = time.Second
	responsePollInterval = 500 * time.Millisecond
)

// StartDaemon sends command into pane, then polls Capture every ~1s up
// to startupTimeout looking for a configured ready token. Timing out is
// a warning, not a failure: the caller decides whether to proceed.
func (t *Transport) StartDaemon(ctx context.Context, pane, command string, startupTimeout time.Duration) error {
	t.setState(pane, StateStarting)
	t.mu.Lock()
	st := t.states[pane]
	st.StartedAt = time.Now()
	t.states[pane] = st
	t.mu.Unlock()

	if err := t.SendLine(ctx, pane, command); err != nil {
		t.setState(pane, StateStopped)
		return err
	}

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		out, err := t.Capture(ctx, pane, t.cfg.CaptureTailLines)
		if err == nil && t.containsAny(out, t.cfg.ReadyTokens) {
			t.setState(pane, StateRunning)
			t.touchHeartbeat(pane)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(daemonPollInterval):
		}
	}

	log.Warn("daemon startup timed out waiting for ready token", "pane", pane)
	return nil
}

// SendCommandAwait sends command, then polls Capture every ~500ms until
// the pane output contains a configured response terminator or
// responseTimeout elapses. A timeout is reported as OK=false with a
// timeout message, not an error.
func (t *Transport) SendCommandAwait(ctx context.Context, pane, command string, responseTimeout time.Duration) (CommandResult, error) {
	before, err := t.Capture(ctx, pane, t.cfg.CaptureTailLines)
	if err != nil {
		return CommandResult{}, err
	}

	if err := t.SendLine(ctx, pane, command); err != nil {
		return CommandResult{}, err
	}

	deadline := time.Now().Add(responseTimeout)
	for time.Now().Before(deadline) {
		out, err := t.Capture(ctx, pane, t.cfg.CaptureTailLines)
		if err == nil && t.containsAny(out, t.cfg.ResponseTerminators) {
			return CommandResult{Response: newLines(before, out), OK: true}, nil
		}
		select {
		case <-ctx.Done():
			return CommandResult{}, ctx.Err()
		case <-time.After(responsePollInterval):
		}
	}

	return CommandResult{Response: "timeout waiting for response", OK: false}, nil
}

func newLines(before, after string) string {
	if len(after) > len(before) && after[:len(before)] == before {
		return after[len(before):]
	}
	return after
}

// HealthCheck runs an "echo ping" round-trip with a ~5s timeout; the
// daemon is healthy iff a response arrives.
func (t *Transport) HealthCheck(ctx context.Context, pane string) (bool, error) {
	res, err := t.SendCommandAwait(ctx, pane, "echo ping", 5*time.Second)
	if err != nil {
		return false, err
	}
	if res.OK {
		t.touchHeartbeat(pane)
	}
	return res.OK, nil
}

func (t *Transport) touchHeartbeat(pane string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[pane]
	st.LastHeartbeat = time.Now()
	t.states[pane] = st
}

// StopDaemon marks pane stopped. Preserving statistics across restart is
// not required, so they are left as-is.
func (t *Transport) StopDaemon(pane string) {
	t.setState(pane, StateStopped)
}

// RestartDaemon stops then restarts the daemon with command.
func (t *Transport) RestartDaemon(ctx context.Context, pane, command string, startupTimeout time.Duration) error {
	t.StopDaemon(pane)
	return t.StartDaemon(ctx, pane, command, startupTimeout)
}

// StartAllDaemons starts command on every named pane, collecting the
// first error but attempting all of them.
func (t *Transport) StartAllDaemons(ctx context.Context, panes []string, command string, startupTimeout time.Duration) error {
	var firstErr error
	for _, p := range panes {
		if err := t.StartDaemon(ctx, p, command, startupTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAllDaemons stops every currently known daemon.
func (t *Transport) StopAllDaemons() {
	t.mu.Lock()
	panes := make([]string, 0, len(t.panes))
	for p := range t.panes {
		panes = append(panes, p)
	}
	t.mu.Unlock()

	for _, p := range panes {
		t.StopDaemon(p)
	}
}
