package gcode

import "strings"

// IsBlocking reports whether cmd needs confirmation before the next send.
// A line is blocking when any of its G words is a motion word G0, G1, G2
// or G3 (leading zeros allowed, e.g. G01), or when it is the homing
// command $H. Axis words continuing an earlier motion mode are not seen
// here; use a Classifier for a whole program.
func IsBlocking(cmd string) bool {
	return classify(cmd).blocking
}

// Classifier classifies the lines of one program in order, tracking the
// modal motion mode so that a line carrying only axis words after G1 is a
// motion too. The zero value starts in G0, the controller's power-up mode.
type Classifier struct {
	cancelled bool
}

// Blocking classifies cmd and applies its modal changes.
func (c *Classifier) Blocking(cmd string) bool {
	l := classify(cmd)
	switch {
	case l.motion:
		c.cancelled = false
	case l.cancel:
		c.cancelled = true
	}
	if l.blocking {
		return true
	}
	return !c.cancelled && l.axes && !l.usesAxes
}

type lineClass struct {
	blocking bool // explicit motion word or $H
	motion   bool // sets a G0-G3 motion mode
	cancel   bool // G80 or probing leaves the G0-G3 modes
	axes     bool // carries axis words
	usesAxes bool // a non-modal command consumes the axis words
}

func classify(cmd string) lineClass {
	upper := strings.ToUpper(cmd)
	if strings.HasPrefix(strings.TrimSpace(upper), "$") {
		return lineClass{blocking: strings.Contains(upper, "$H")}
	}

	var l lineClass
	for w := range words(upper) {
		switch {
		case w.letter == 'G':
			switch gCode(w.value) {
			case "0", "1", "2", "3":
				l.blocking, l.motion = true, true
			case "80", "38.2", "38.3", "38.4", "38.5":
				l.cancel = true
			case "4", "10", "28", "28.1", "30", "30.1", "92", "92.1":
				l.usesAxes = true
			}
		case strings.IndexByte("XYZABCIJKR", w.letter) >= 0:
			l.axes = true
		}
	}
	return l
}

// gCode normalizes a G word value: leading zeros dropped, "0" kept.
func gCode(v string) string {
	v = strings.TrimLeft(v, "0")
	if v == "" || v[0] == '.' {
		v = "0" + v
	}
	return v
}

type word struct {
	letter byte
	value  string
}

// words yields letter/number pairs, skipping spaces, N line numbers and
// parenthesized comments.
func words(s string) func(yield func(word) bool) {
	return func(yield func(word) bool) {
		i := 0
		for i < len(s) {
			c := s[i]
			switch {
			case c == '(':
				end := strings.IndexByte(s[i:], ')')
				if end < 0 {
					return
				}
				i += end + 1
				continue
			case c < 'A' || c > 'Z':
				i++
				continue
			}
			i = skipSpace(s, i+1)
			start := i
			if i < len(s) && (s[i] == '-' || s[i] == '+') {
				i++
			}
			for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
				i++
			}
			if c == 'N' || i == start {
				continue
			}
			if !yield(word{letter: c, value: s[start:i]}) {
				return
			}
		}
	}
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
