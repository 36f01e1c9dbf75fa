package ptysvc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResizeStateBrowserAlwaysWins(t *testing.T) {
	var r resizeState
	now := time.Now()
	r.recordTerminal(100, 30, now)
	require.True(t, r.shouldApplyTerminal(now.Add(1*time.Millisecond)))

	r.recordBrowser(80, 24, now.Add(10*time.Millisecond))
	require.False(t, r.shouldApplyTerminal(now.Add(20*time.Millisecond)))
}

func TestResizeStateTerminalAppliesAfterGraceWindow(t *testing.T) {
	var r resizeState
	base := time.Now()
	r.recordBrowser(80, 24, base)

	require.False(t, r.shouldApplyTerminal(base.Add(resizeGrace-time.Millisecond)))
	require.True(t, r.shouldApplyTerminal(base.Add(resizeGrace+time.Millisecond)))
}

func TestResizeStateTerminalAppliesWhenNoPriorResize(t *testing.T) {
	var r resizeState
	require.True(t, r.shouldApplyTerminal(time.Now()))
}

func TestResizeStateConsecutiveTerminalResizesAlwaysApply(t *testing.T) {
	var r resizeState
	now := time.Now()
	r.recordTerminal(80, 24, now)
	require.True(t, r.shouldApplyTerminal(now.Add(time.Millisecond)))
}
