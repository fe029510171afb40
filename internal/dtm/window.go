package dtm

import (
	"fmt"
	"time"
)

// TimeWindow is a daily window expressed in military time (HHMM as an int,
// e.g. 1800 for 6 PM). A window whose Start is after its End wraps past
// midnight.
type TimeWindow struct {
	Start int
	End   int
}

// DefaultWindow opens at 18:00 and closes at 06:00 the next morning.
var DefaultWindow = TimeWindow{Start: 1800, End: 600}

// IsOpen reports whether now falls inside the window [start, end].
// Bounds are inclusive on both ends. When start > end the window wraps past
// midnight and is open when now >= start or now <= end.
func IsOpen(now, start, end int) bool {
	if start <= end {
		return start <= now && now <= end
	}
	return now >= start || now <= end
}

// MilitaryTime converts t to HHMM form using t's own location.
func MilitaryTime(t time.Time) int {
	return t.Hour()*100 + t.Minute()
}

// Wraps reports whether the window crosses midnight.
func (w TimeWindow) Wraps() bool {
	return w.Start > w.End
}

// Contains reports whether the military time now is inside the window.
func (w TimeWindow) Contains(now int) bool {
	return IsOpen(now, w.Start, w.End)
}

// Validate checks that both bounds are valid military times.
func (w TimeWindow) Validate() error {
	if err := validateMilitary(w.Start); err != nil {
		return &ConfigError{Field: "window.start", Err: err}
	}
	if err := validateMilitary(w.End); err != nil {
		return &ConfigError{Field: "window.end", Err: err}
	}
	return nil
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/100, w.Start%100, w.End/100, w.End%100)
}

func validateMilitary(v int) error {
	if v < 0 || v > 2359 {
		return fmt.Errorf("%d is outside 0000-2359", v)
	}
	if v%100 >= 60 {
		return fmt.Errorf("%d has minutes >= 60", v)
	}
	return nil
}

// Gate decides whether a scheduled run may proceed right now.
type Gate struct {
	window TimeWindow
	clock  Clock
}

// NewGate creates a Gate for the given window.
func NewGate(window TimeWindow, clock Clock) *Gate {
	return &Gate{window: window, clock: clock}
}

// Window returns the window the gate evaluates.
func (g *Gate) Window() TimeWindow { return g.window }

// Open reports whether the window is open at the clock's current local time.
func (g *Gate) Open() bool {
	return g.window.Contains(MilitaryTime(g.clock.Now().Local()))
}

// Check returns ErrOutsideWindow when the gate is closed.
func (g *Gate) Check() error {
	if !g.Open() {
		return fmt.Errorf("%w (%s)", ErrOutsideWindow, g.window)
	}
	return nil
}
