package coordinate

import (
	"time"

	"github.com/nyasuto/hive/internal/substrate"
)

// Event is one Watch log record: every structural event (send, receive,
// parallel batch begin/end, cycle iteration begin/end) appends one of
// these to a time-ordered log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Target    string         `json:"target,omitempty"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary"`
	Context   map[string]any `json:"context,omitempty"`
}

// WatchLog appends newline-delimited Event records through the
// filesystem substrate, so the log itself is lock-protected and
// crash-safe like every other on-disk artifact.
type WatchLog struct {
	sub  *substrate.Substrate
	path string
}

// NewWatchLog returns a WatchLog writing to logs/watch.jsonl under sub's
// root.
func NewWatchLog(sub *substrate.Substrate) *WatchLog {
	return &WatchLog{sub: sub, path: sub.Path("logs", "watch.jsonl")}
}

// Append writes evt to the log, stamping Timestamp if it is zero.
func (w *WatchLog) Append(evt Event) {
	if w == nil || w.sub == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if err := w.sub.AppendJSONLine(w.path, evt); err != nil {
		log.Warn("watch log append failed", "error", err.Error())
	}
}
