package pane

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeMux is an in-memory Multiplexer used to test Transport without
// shelling out to a real tmux binary.
type fakeMux struct {
	mu       sync.Mutex
	sessions map[string][]string
	sent     map[string][]string
	scroll   map[string]string
}

func newFakeMux() *fakeMux {
	return &fakeMux{
		sessions: make(map[string][]string),
		sent:     make(map[string][]string),
		scroll:   make(map[string]string),
	}
}

func (f *fakeMux) NewSession(ctx context.Context, session string, panes []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handles := make(map[string]string, len(panes))
	for i, p := range panes {
		handles[p] = session + ":" + p
		_ = i
	}
	f.sessions[session] = panes
	return handles, nil
}

func (f *fakeMux) KillSession(ctx context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, session)
	return nil
}

func (f *fakeMux) SendLine(ctx context.Context, pane, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[pane] = append(f.sent[pane], text)
	f.scroll[pane] += text + "\n"
	return nil
}

func (f *fakeMux) SendKeys(ctx context.Context, pane, keys string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scroll[pane] += keys
	return nil
}

func (f *fakeMux) CapturePane(ctx context.Context, pane string, tailLines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scroll[pane], nil
}

func (f *fakeMux) appendReady(pane string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scroll[pane] += "claude> "
}

func (f *fakeMux) appendTerminator(pane string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scroll[pane] += "response text\n$ "
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CaptureRateLimit = rate.Inf // unlimited in tests
	return cfg
}

func TestEnsureSessionAssignsPaneHandles(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())

	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"queen", "worker1"}))
	require.Contains(t, tr.panes, "queen")
	require.Contains(t, tr.panes, "worker1")
}

func TestSendLineOrderingIsFIFO(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())
	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))

	var want []string
	for i := 0; i < 5; i++ {
		line := "line " + strconv.Itoa(i)
		want = append(want, line)
		require.NoError(t, tr.SendLine(context.Background(), "worker1", line))
	}

	handle := tr.panes["worker1"]
	require.Equal(t, want, mux.sent[handle])
}

func TestSendLineUnknownPaneErrors(t *testing.T) {
	t.Parallel()

	tr := New(newFakeMux(), testConfig())
	err := tr.SendLine(context.Background(), "ghost", "hi")
	require.Error(t, err)
}

func TestStartDaemonDetectsReadyToken(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())
	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))
	handle := tr.panes["worker1"]
	mux.appendReady(handle)

	err := tr.StartDaemon(context.Background(), "worker1", "claude", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, StateRunning, tr.Status("worker1").Status)
}

func TestSendCommandAwaitReturnsNewLinesOnTerminator(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())
	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))
	handle := tr.panes["worker1"]

	go func() {
		time.Sleep(20 * time.Millisecond)
		mux.appendTerminator(handle)
	}()

	res, err := tr.SendCommandAwait(context.Background(), "worker1", "run tests", time.Second)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, strings.Contains(res.Response, "response text"))
}

func TestSendCommandAwaitTimesOutGracefully(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())
	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))

	res, err := tr.SendCommandAwait(context.Background(), "worker1", "run tests", 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, res.OK)
}

func TestHealthCheckHealthyWhenResponsive(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())
	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))
	handle := tr.panes["worker1"]

	go func() {
		time.Sleep(20 * time.Millisecond)
		mux.appendTerminator(handle)
	}()

	healthy, err := tr.HealthCheck(context.Background(), "worker1")
	require.NoError(t, err)
	require.True(t, healthy)
}

func TestEnsureSessionTwiceStaysRunning(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())

	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))
	require.True(t, tr.IsRunning())

	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1", "worker2"}))
	require.True(t, tr.IsRunning())
	require.Contains(t, tr.panes, "worker2")
}

func TestDestroySessionStopsTransport(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())

	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))
	require.True(t, tr.IsRunning())

	require.NoError(t, tr.DestroySession(context.Background(), "hive"))
	require.False(t, tr.IsRunning())

	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))
	require.True(t, tr.IsRunning())
}

func TestStopAndRestartDaemon(t *testing.T) {
	t.Parallel()

	mux := newFakeMux()
	tr := New(mux, testConfig())
	require.NoError(t, tr.EnsureSession(context.Background(), "hive", []string{"worker1"}))
	handle := tr.panes["worker1"]
	mux.appendReady(handle)

	require.NoError(t, tr.StartDaemon(context.Background(), "worker1", "claude", time.Second))
	tr.StopDaemon("worker1")
	require.Equal(t, StateStopped, tr.Status("worker1").Status)

	require.NoError(t, tr.RestartDaemon(context.Background(), "worker1", "claude", time.Second))
	require.Equal(t, StateRunning, tr.Status("worker1").Status)
}
