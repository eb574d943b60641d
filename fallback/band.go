// Package fallback implements the handler registry and the priority-band
// broadcast protocol: discovery of willing handlers via ping/pong, ordered
// per-handler attempts with bounded timeouts, and a legacy single-handler
// compatibility path.
package fallback

import "fmt"

// Band is a half-open priority interval (Start, Stop] grouping handlers
// tried together.
type Band struct {
	Start int
	Stop  int
}

// The three defined bands over the priority space 0..101. The low band
// includes the default priority 101 assigned to handlers that register
// without one.
var (
	// HighBand holds a small number of latency-critical handlers.
	HighBand = Band{Start: 0, Stop: 5}
	// MediumBand holds general-purpose handlers.
	MediumBand = Band{Start: 5, Stop: 90}
	// LowBand is the last-resort catch-all, attempted only after every
	// earlier stage declined.
	LowBand = Band{Start: 90, Stop: 101}
)

// Contains reports whether priority p falls inside the band.
func (b Band) Contains(p int) bool {
	return b.Start < p && p <= b.Stop
}

// Bounds returns the band limits in wire form.
func (b Band) Bounds() []int {
	return []int{b.Start, b.Stop}
}

// String names the three defined bands; ad-hoc bands print their bounds.
func (b Band) String() string {
	switch b {
	case HighBand:
		return "high"
	case MediumBand:
		return "medium"
	case LowBand:
		return "low"
	default:
		return fmt.Sprintf("(%d,%d]", b.Start, b.Stop)
	}
}
