// Package pane drives an external terminal multiplexer (C5): session and
// pane lifecycle, line injection, output capture, and daemon supervision
// for long-running interactive workers.
package pane

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Multiplexer is the narrow shell-out contract Transport drives. No
// library API beyond the multiplexer's standard verbs is assumed, so a
// fake implementation is trivial to substitute in tests.
type Multiplexer interface {
	NewSession(ctx context.Context, session string, panes []string) (map[string]string, error)
	KillSession(ctx context.Context, session string) error
	SendLine(ctx context.Context, pane, text string) error
	SendKeys(ctx context.Context, pane, keys string) error
	CapturePane(ctx context.Context, pane string, tailLines int) (string, error)
}

// Mux is a Multiplexer backed by the tmux binary.
type Mux struct {
	// Bin is the tmux executable, overridable in tests; defaults to "tmux".
	Bin string
}

// NewMux returns a Mux driving the system tmux binary.
func NewMux() *Mux {
	return &Mux{Bin: "tmux"}
}

func (m *Mux) bin() string {
	if m.Bin == "" {
		return "tmux"
	}
	return m.Bin
}

func (m *Mux) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.bin(), args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", errors.Errorf("tmux %s: %v: %s", strings.Join(args, " "), err, string(ee.Stderr))
		}
		return "", errors.Wrapf(err, "tmux %s", strings.Join(args, " "))
	}
	return string(out), nil
}

// NewSession creates one window per logical pane name and returns the
// {logical_name → pane_handle} map. Pane handles are "<session>:<index>.0".
func (m *Mux) NewSession(ctx context.Context, session string, panes []string) (map[string]string, error) {
	if len(panes) == 0 {
		return nil, errors.New("tmux: NewSession requires at least one pane")
	}

	handles := make(map[string]string, len(panes))
	for i, logical := range panes {
		target := fmt.Sprintf("%s:%d", session, i)
		handles[logical] = target + ".0"

		if i == 0 {
			if _, err := m.run(ctx, "new-session", "-d", "-s", session, "-n", logical); err != nil {
				return nil, errors.Wrapf(err, "tmux: creating session %s", session)
			}
			continue
		}
		if _, err := m.run(ctx, "new-window", "-t", session, "-n", logical); err != nil {
			return nil, errors.Wrapf(err, "tmux: creating window %s in session %s", logical, session)
		}
	}
	return handles, nil
}

// KillSession destroys the named session. Missing sessions are not an
// error.
func (m *Mux) KillSession(ctx context.Context, session string) error {
	if _, err := m.run(ctx, "kill-session", "-t", session); err != nil {
		if strings.Contains(err.Error(), "session not found") {
			return nil
		}
		return err
	}
	return nil
}

// SendLine writes text followed by Enter into pane.
func (m *Mux) SendLine(ctx context.Context, pane, text string) error {
	_, err := m.run(ctx, "send-keys", "-t", pane, text, "Enter")
	return err
}

// SendKeys writes a raw key sequence into pane with no trailing Enter.
func (m *Mux) SendKeys(ctx context.Context, pane, keys string) error {
	_, err := m.run(ctx, "send-keys", "-t", pane, keys)
	return err
}

// CapturePane returns the last tailLines lines of pane's scrollback.
func (m *Mux) CapturePane(ctx context.Context, pane string, tailLines int) (string, error) {
	if tailLines <= 0 {
		tailLines = 1
	}
	start := "-" + strconv.Itoa(tailLines-1)
	return m.run(ctx, "capture-pane", "-t", pane, "-p", "-S", start)
}
