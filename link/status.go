package link

import (
	"strconv"
	"strings"
)

// BufferInfo is a parsed controller status report.
//
// Two report shapes are supported: one carrying a "Bf:<planner>,<rx>" field
// with free slot counts, and one carrying only a leading state token.
type BufferInfo struct {
	// Valid is true if a bracketed report was parsed.
	Valid bool `json:"valid"`
	// State is the leading machine state token (e.g. "Idle", "Run", "Hold:0").
	State string `json:"state,omitempty"`
	// HasBuffer is true if the report carried a Bf field.
	HasBuffer bool `json:"has_buffer"`
	// PlannerFree is the number of free planner blocks.
	PlannerFree int `json:"planner_free"`
	// RxFree is the number of free serial receive buffer bytes.
	RxFree int `json:"rx_free"`
	// Raw is the report line as received.
	Raw string `json:"raw,omitempty"`
}

// ParseStatus parses one status line. Lines that are not a bracketed
// report yield a BufferInfo with Valid=false, never an error: status polls
// race with other firmware output.
func ParseStatus(line string) BufferInfo {
	line = strings.TrimSpace(line)
	info := BufferInfo{Raw: line}
	if len(line) < 2 || line[0] != '<' || line[len(line)-1] != '>' {
		return info
	}
	body := line[1 : len(line)-1]

	// GRBL 1.1 separates fields with '|'; 0.9 used ','.
	state := body
	if i := strings.IndexAny(body, "|,"); i >= 0 {
		state = body[:i]
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return info
	}
	info.Valid = true
	info.State = state

	for _, field := range strings.Split(body, "|") {
		value, ok := strings.CutPrefix(field, "Bf:")
		if !ok {
			continue
		}
		planner, rx, ok := strings.Cut(value, ",")
		if !ok {
			break
		}
		p, errP := strconv.Atoi(strings.TrimSpace(planner))
		r, errR := strconv.Atoi(strings.TrimSpace(rx))
		if errP != nil || errR != nil {
			break
		}
		info.HasBuffer = true
		info.PlannerFree = p
		info.RxFree = r
		break
	}
	return info
}

// BaseState returns the state token without a sub-state (e.g. "Hold:0" -> "Hold").
func (b BufferInfo) BaseState() string {
	state, _, _ := strings.Cut(b.State, ":")
	return state
}

// ReadyForMore reports whether the controller can accept more work.
// With a Bf field, ready means more than threshold free planner slots.
// Without one, only the Idle state is ready.
func (b BufferInfo) ReadyForMore(threshold int) bool {
	if !b.Valid {
		return false
	}
	if b.HasBuffer {
		return b.PlannerFree > threshold
	}
	return b.BaseState() == "Idle"
}
