package ptysvc

import "time"

// ResizeSource identifies who requested the most recent resize.
type ResizeSource string

const (
	ResizeFromBrowser  ResizeSource = "browser"
	ResizeFromTerminal ResizeSource = "terminal"
)

// resizeGrace is the window during which a terminal-originated resize
// is suppressed in favor of a more recent browser resize.
const resizeGrace = 1000 * time.Millisecond

// resizeState is a tiny state machine keyed on {lastSource, lastAt}
// so the last-resize-wins policy lives in one place instead of being
// scattered across call sites.
type resizeState struct {
	lastSource ResizeSource
	lastAt     time.Time
	cols, rows int
}

// recordBrowser always applies — the browser's resize request always
// wins immediately.
func (r *resizeState) recordBrowser(cols, rows int, now time.Time) {
	r.lastSource = ResizeFromBrowser
	r.lastAt = now
	r.cols, r.rows = cols, rows
}

// shouldApplyTerminal reports whether a terminal-originated resize at
// `now` should be forwarded to the PTY: only if the most recent
// resize came from the terminal itself, or is older than the grace
// window (so a stale browser resize no longer blocks it).
func (r *resizeState) shouldApplyTerminal(now time.Time) bool {
	if r.lastSource == "" || r.lastSource == ResizeFromTerminal {
		return true
	}
	return now.Sub(r.lastAt) >= resizeGrace
}

func (r *resizeState) recordTerminal(cols, rows int, now time.Time) {
	r.lastSource = ResizeFromTerminal
	r.lastAt = now
	r.cols, r.rows = cols, rows
}
