package tools

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// HolidayCalendar reports non-business days beyond weekends.
type HolidayCalendar interface {
	IsHoliday(d time.Time) bool
}

// NationalHolidays covers the fixed-date national holidays and the
// year-end forensic recess (Dec 20 to Jan 20), during which procedural
// deadlines are suspended. Moveable feasts come from the caller.
type NationalHolidays struct {
	Extra map[string]bool // YYYY-MM-DD
}

var fixedHolidays = map[[2]int]bool{
	{1, 1}:   true,
	{4, 21}:  true,
	{5, 1}:   true,
	{9, 7}:   true,
	{10, 12}: true,
	{11, 2}:  true,
	{11, 15}: true,
	{11, 20}: true,
	{12, 25}: true,
}

func (h NationalHolidays) IsHoliday(d time.Time) bool {
	m, day := int(d.Month()), d.Day()
	if fixedHolidays[[2]int{m, day}] {
		return true
	}
	if (m == 12 && day >= 20) || (m == 1 && day <= 20) {
		return true
	}
	return h.Extra[d.Format(DateLayout)]
}

// BusinessDay reports whether d counts toward a procedural deadline.
func BusinessDay(d time.Time, cal HolidayCalendar) bool {
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return cal == nil || !cal.IsHoliday(d)
}

// DeadlineResult is the outcome of a deadline computation.
type DeadlineResult struct {
	StartDate   string   `json:"start_date"`
	Days        int      `json:"days"`
	Deadline    string   `json:"deadline"`
	SkippedDays []string `json:"skipped_days"`
}

// CalculateDeadline counts days business days after start: the start day is
// excluded and weekends and holidays are skipped, so the result is always a
// business day.
func CalculateDeadline(start time.Time, days int, cal HolidayCalendar) (DeadlineResult, error) {
	if days < 1 || days > 365 {
		return DeadlineResult{}, fmt.Errorf("days must be between 1 and 365, got %d", days)
	}
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	res := DeadlineResult{StartDate: d.Format(DateLayout), Days: days, SkippedDays: []string{}}

	for remaining := days; remaining > 0; {
		d = d.AddDate(0, 0, 1)
		if BusinessDay(d, cal) {
			remaining--
			continue
		}
		res.SkippedDays = append(res.SkippedDays, d.Format(DateLayout))
	}
	res.Deadline = d.Format(DateLayout)
	return res, nil
}
