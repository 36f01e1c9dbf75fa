package activity

import (
	"strings"
	"time"
)

// ProcessInfo is one process in a tree snapshot.
type ProcessInfo struct {
	PID       int
	PPID      int
	Name      string
	StartedAt time.Time
}

// knownPromptUtilities are excluded from "suspected source" attribution —
// shells run these constantly to build interactive prompts, and a bell
// they happen to trigger almost never reflects user intent.
var knownPromptUtilities = map[string]bool{
	"git":      true,
	"pwd":      true,
	"hostname": true,
	"date":     true,
	"ls":       true,
	"whoami":   true,
	"id":       true,
	"stty":     true,
	"tput":     true,
}

// youngDescendantThreshold excludes descendants started within this
// window of "now" from suspected-source attribution — these are
// almost always prompt helpers spawned in response to the same
// keystroke, not the cause of the bell.
const youngDescendantThreshold = 100 * time.Millisecond

// Snapshot builds the full process tree and returns every descendant
// of rootPID, rootPID's own entry included.
func Snapshot(rootPID int) ([]ProcessInfo, error) {
	all, err := listProcesses()
	if err != nil {
		return nil, err
	}

	children := make(map[int][]ProcessInfo, len(all))
	byPID := make(map[int]ProcessInfo, len(all))
	for _, p := range all {
		children[p.PPID] = append(children[p.PPID], p)
		byPID[p.PID] = p
	}

	var out []ProcessInfo
	if root, ok := byPID[rootPID]; ok {
		out = append(out, root)
	} else {
		out = append(out, ProcessInfo{PID: rootPID})
	}

	queue := []int{rootPID}
	seen := map[int]bool{rootPID: true}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, c := range children[pid] {
			if seen[c.PID] {
				continue
			}
			seen[c.PID] = true
			out = append(out, c)
			queue = append(queue, c.PID)
		}
	}
	return out, nil
}

// SuspectedSource picks the process most likely to have produced a
// bell: the most recent non-shell, non-prompt-utility direct child
// (excluding ones younger than youngDescendantThreshold), falling back
// to the most recent non-shell descendant anywhere in the tree,
// falling back to the shell (rootPID) itself.
func SuspectedSource(tree []ProcessInfo, rootPID int, now time.Time) ProcessInfo {
	var root ProcessInfo
	byPID := make(map[int]ProcessInfo, len(tree))
	for _, p := range tree {
		byPID[p.PID] = p
		if p.PID == rootPID {
			root = p
		}
	}

	isEligible := func(p ProcessInfo) bool {
		if p.PID == rootPID {
			return false
		}
		if isShellName(p.Name) {
			return false
		}
		if knownPromptUtilities[baseName(p.Name)] {
			return false
		}
		return true
	}

	var bestDirectChild ProcessInfo
	haveDirectChild := false
	for _, p := range tree {
		if p.PPID != rootPID || !isEligible(p) {
			continue
		}
		if now.Sub(p.StartedAt) < youngDescendantThreshold {
			continue
		}
		if !haveDirectChild || p.StartedAt.After(bestDirectChild.StartedAt) {
			bestDirectChild = p
			haveDirectChild = true
		}
	}
	if haveDirectChild {
		return bestDirectChild
	}

	var bestDescendant ProcessInfo
	haveDescendant := false
	for _, p := range tree {
		if !isEligible(p) {
			continue
		}
		if !haveDescendant || p.StartedAt.After(bestDescendant.StartedAt) {
			bestDescendant = p
			haveDescendant = true
		}
	}
	if haveDescendant {
		return bestDescendant
	}

	return root
}

func isShellName(name string) bool {
	switch baseName(name) {
	case "bash", "zsh", "sh", "fish", "ksh", "tcsh", "csh", "dash":
		return true
	default:
		return false
	}
}

func baseName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
