// Package markethours knows the NSE cash session so bar staleness is only
// judged while bars are expected to arrive.
package markethours

import (
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session bounds in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// NSE holidays for 2026, tentative dates included.
var holidays = map[string]bool{
	"2026-01-26": true, "2026-02-17": true, "2026-03-14": true, "2026-03-31": true,
	"2026-04-02": true, "2026-04-06": true, "2026-04-10": true, "2026-04-14": true,
	"2026-05-01": true, "2026-06-07": true, "2026-07-06": true, "2026-08-15": true,
	"2026-08-16": true, "2026-09-05": true, "2026-10-02": true, "2026-10-20": true,
	"2026-10-21": true, "2026-11-05": true, "2026-11-06": true, "2026-11-07": true,
	"2026-11-19": true, "2026-12-25": true,
}

// IsHoliday reports whether the IST date of t is an NSE holiday.
func IsHoliday(t time.Time) bool {
	return holidays[t.In(IST).Format("2006-01-02")]
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	return wd != time.Saturday && wd != time.Sunday && !IsHoliday(ist)
}

// IsMarketOpen reports whether t is inside the 09:15-15:30 IST session
// of a trading day.
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// NextOpen returns the next session open at or after t.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	open := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if ist.Before(open) && IsTradingDay(ist) {
		return open
	}
	for i := 1; i <= 10; i++ {
		d := open.AddDate(0, 0, i)
		if IsTradingDay(d) {
			return d
		}
	}
	return open.AddDate(0, 0, 1)
}

// Stale reports whether a series whose last bar arrived at last should be
// considered stalled at now. Outside the session nothing is stale.
func Stale(last, now time.Time, maxAge time.Duration) bool {
	if last.IsZero() || !IsMarketOpen(now) {
		return false
	}
	return now.Sub(last) > maxAge
}
