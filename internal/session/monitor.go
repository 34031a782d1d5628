package session

import (
	"sort"
	"strings"
	"time"

	"github.com/stemsi/mocktest-backend/internal/model"
)

const (
	// DevtoolsThreshold is the number of detection seconds tolerated before a forced exit.
	DevtoolsThreshold = 10
	// DevtoolsGap is the outer/inner window mismatch, in pixels, treated as docked devtools.
	DevtoolsGap = 160
	// WarningTTL is how long a tab-switch warning stays on screen.
	WarningTTL = 3 * time.Second
)

// SignalKind names a proctoring signal reported by the participant's browser.
type SignalKind string

const (
	// SignalVisibility reports the page becoming hidden or visible.
	SignalVisibility SignalKind = "visibility"
	// SignalShortcut reports a key combination.
	SignalShortcut SignalKind = "shortcut"
	// SignalContextMenu reports a right-click menu attempt.
	SignalContextMenu SignalKind = "context_menu"
	// SignalDrag reports a drag started on exam content.
	SignalDrag SignalKind = "drag"
	// SignalDimensions reports outer and inner window sizes, sent once per second.
	SignalDimensions SignalKind = "dimensions"
)

// Signal is one browser observation.
type Signal struct {
	Kind        SignalKind
	Hidden      bool
	Combo       string
	OuterWidth  int
	InnerWidth  int
	OuterHeight int
	InnerHeight int
}

// Verdict is the monitor's reaction to a signal.
type Verdict struct {
	Cancel    bool
	Warning   string
	Activity  model.ActivityKind
	Detail    map[string]any
	ForceExit bool
}

// blockedShortcuts covers devtools, refresh, tab navigation, save and print.
var blockedShortcuts = map[string]bool{
	"F12":            true,
	"Ctrl+Shift+I":   true,
	"Ctrl+Shift+J":   true,
	"Ctrl+Shift+C":   true,
	"Ctrl+U":         true,
	"F5":             true,
	"Ctrl+R":         true,
	"Ctrl+Shift+R":   true,
	"Ctrl+Tab":       true,
	"Ctrl+Shift+Tab": true,
	"Ctrl+W":         true,
	"Ctrl+T":         true,
	"Ctrl+N":         true,
	"Alt+Tab":        true,
	"Ctrl+S":         true,
	"Ctrl+P":         true,
}

// BlockedShortcuts lists the canonical combos the browser must cancel.
func BlockedShortcuts() []string {
	out := make([]string, 0, len(blockedShortcuts))
	for k := range blockedShortcuts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var modifierOrder = map[string]int{"Ctrl": 0, "Alt": 1, "Shift": 2}

// NormalizeCombo canonicalizes a combo such as "shift+control+i" to "Ctrl+Shift+I".
// Meta/Cmd count as Ctrl so macOS shortcuts map onto the same table.
func NormalizeCombo(combo string) string {
	var mods []string
	key := ""
	for _, raw := range strings.Split(combo, "+") {
		p := strings.TrimSpace(raw)
		switch strings.ToLower(p) {
		case "":
			continue
		case "ctrl", "control", "meta", "cmd", "command":
			mods = appendOnce(mods, "Ctrl")
		case "alt", "option":
			mods = appendOnce(mods, "Alt")
		case "shift":
			mods = appendOnce(mods, "Shift")
		case "tab":
			key = "Tab"
		default:
			key = strings.ToUpper(p)
		}
	}
	sort.Slice(mods, func(i, j int) bool { return modifierOrder[mods[i]] < modifierOrder[mods[j]] })
	if key != "" {
		mods = append(mods, key)
	}
	return strings.Join(mods, "+")
}

func appendOnce(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// Monitor tracks proctoring state. It ignores every signal until strict mode
// is enabled on the first entry into an exam phase. It is a deterrent only:
// the dimension heuristic misfires on some zoom levels and browsers.
type Monitor struct {
	strict        bool
	violations    int
	tabSwitches   int
	lastDetection time.Time
	warningUntil  time.Time
}

// NewMonitor creates an inactive Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Enable switches on strict mode. It reports whether this call changed it.
func (m *Monitor) Enable() bool {
	if m.strict {
		return false
	}
	m.strict = true
	return true
}

// Strict reports whether strict mode is on.
func (m *Monitor) Strict() bool { return m.strict }

// Violations returns the number of devtools detections so far.
func (m *Monitor) Violations() int { return m.violations }

// TabSwitches returns how many times the page was hidden in strict mode.
func (m *Monitor) TabSwitches() int { return m.tabSwitches }

// ProctorStats is a copy of the monitor counters, safe to hand to another goroutine.
type ProctorStats struct {
	Violations  int
	TabSwitches int
}

// Stats returns the current counters.
func (m *Monitor) Stats() ProctorStats {
	return ProctorStats{Violations: m.violations, TabSwitches: m.tabSwitches}
}

// WarningExpired reports, once, that a displayed warning has timed out.
func (m *Monitor) WarningExpired(now time.Time) bool {
	if m.warningUntil.IsZero() || now.Before(m.warningUntil) {
		return false
	}
	m.warningUntil = time.Time{}
	return true
}

// Observe evaluates one signal.
func (m *Monitor) Observe(now time.Time, sig Signal) Verdict {
	if !m.strict {
		return Verdict{}
	}

	switch sig.Kind {
	case SignalShortcut:
		combo := NormalizeCombo(sig.Combo)
		if !blockedShortcuts[combo] {
			return Verdict{}
		}
		return Verdict{
			Cancel:   true,
			Activity: model.ActivityBlockedShortcut,
			Detail:   map[string]any{"combo": combo},
		}

	case SignalContextMenu, SignalDrag:
		return Verdict{Cancel: true}

	case SignalVisibility:
		if !sig.Hidden {
			return Verdict{}
		}
		m.tabSwitches++
		m.warningUntil = now.Add(WarningTTL)
		return Verdict{
			Warning:  "Leaving the exam tab is recorded. Stay on this page until the module ends.",
			Activity: model.ActivityTabSwitch,
			Detail:   map[string]any{"count": m.tabSwitches},
		}

	case SignalDimensions:
		if !devtoolsSuspected(sig) {
			return Verdict{}
		}
		// One violation per detection second, however often the browser reports.
		if !m.lastDetection.IsZero() && now.Sub(m.lastDetection) < time.Second {
			return Verdict{}
		}
		m.lastDetection = now
		m.violations++
		v := Verdict{
			Activity: model.ActivityDevtoolsSuspected,
			Detail:   map[string]any{"violations": m.violations},
		}
		if m.violations > DevtoolsThreshold {
			v.ForceExit = true
			v.Warning = "Developer tools stayed open. Your session has been closed."
		}
		return v
	}

	return Verdict{}
}

func devtoolsSuspected(sig Signal) bool {
	return sig.OuterWidth-sig.InnerWidth > DevtoolsGap || sig.OuterHeight-sig.InnerHeight > DevtoolsGap
}
