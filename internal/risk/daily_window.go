package risk

import "time"

// DailyWindow accumulates realized P&L for one calendar day.
type DailyWindow struct {
	day time.Time
	pnl float64
}

func NewDailyWindow(now time.Time) *DailyWindow {
	return &DailyWindow{day: startOfDay(now)}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RolloverIfNeeded zeroes the P&L when now falls on a later day than the
// window. It reports whether a rollover happened. A clock that steps back
// never reopens an earlier day.
func (w *DailyWindow) RolloverIfNeeded(now time.Time) bool {
	today := startOfDay(now.In(w.day.Location()))
	if !today.After(w.day) {
		return false
	}
	w.day = today
	w.pnl = 0
	return true
}

func (w *DailyWindow) Add(pnl float64) {
	w.pnl += pnl
}

func (w *DailyWindow) PnL() float64 {
	return w.pnl
}

func (w *DailyWindow) Day() time.Time {
	return w.day
}

// Loss returns today's realized loss as a positive number, or 0 when flat or up.
func (w *DailyWindow) Loss() float64 {
	if w.pnl < 0 {
		return -w.pnl
	}
	return 0
}
