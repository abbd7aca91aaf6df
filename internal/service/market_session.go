package service

import (
	"time"

	"github.com/papersim/internal/models"
)

// MarketSession confines simulated time to a weekday trading session in one
// timezone. Time outside the session is skipped, so a simulated day only
// spends open-to-close hours. A nil session is a plain linear UTC clock.
type MarketSession struct {
	loc   *time.Location
	open  time.Duration
	close time.Duration
}

// NewMarketSession creates a session opening and closing at the given
// offsets from local midnight in loc
func NewMarketSession(loc *time.Location, open, closeAt time.Duration) *MarketSession {
	return &MarketSession{loc: loc, open: open, close: closeAt}
}

// Advance moves t forward by d of session time. Reaching the close jumps to
// the next open.
func (m *MarketSession) Advance(t time.Time, d time.Duration) time.Time {
	if m == nil {
		return t.Add(d)
	}

	cur := t.In(m.loc)
	for d > 0 {
		if !isTradingDay(cur) || !cur.Before(m.at(cur, m.close)) {
			cur = m.nextOpen(cur)
			continue
		}
		if opening := m.at(cur, m.open); cur.Before(opening) {
			cur = opening
		}

		left := m.at(cur, m.close).Sub(cur)
		step := d
		if left < step {
			step = left
		}
		cur = cur.Add(step)
		d -= step

		if step == left {
			cur = m.nextOpen(cur)
		}
	}
	return cur.UTC()
}

// Day returns the calendar day of t, in the session timezone when one is set
func (m *MarketSession) Day(t time.Time) string {
	if m == nil {
		return t.UTC().Format(models.DayLayout)
	}
	return t.In(m.loc).Format(models.DayLayout)
}

// at returns the wall-clock time offset on the local date of t
func (m *MarketSession) at(t time.Time, offset time.Duration) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, int(offset/time.Hour), int(offset%time.Hour/time.Minute), 0, 0, m.loc)
}

func (m *MarketSession) nextOpen(t time.Time) time.Time {
	y, mo, d := t.Date()
	next := time.Date(y, mo, d+1, 0, 0, 0, 0, m.loc)
	for !isTradingDay(next) {
		next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, m.loc)
	}
	return m.at(next, m.open)
}

func isTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
