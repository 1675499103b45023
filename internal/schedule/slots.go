package schedule

import (
	"sort"
	"time"
)

// DefaultHorizonDays bounds how far ahead a booking date may be.
const DefaultHorizonDays = 30

// ShouldDisableDate reports whether a booking date is outside the allowed
// window: strictly before today, or more than horizonDays after today.
func ShouldDisableDate(now, date time.Time, horizonDays int) bool {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	today := truncateToDay(now)
	day := truncateToDay(date)
	if day.Before(today) {
		return true
	}
	return day.After(today.AddDate(0, 0, horizonDays))
}

// ShiftEnded reports whether the shift's end time has already passed on the
// given date. Only same-day shifts can have ended; future dates never have.
func ShiftEnded(now, date time.Time, shift Shift) bool {
	if !sameDay(now, date) {
		return false
	}
	end, err := time.ParseInLocation("15:04", shift.End, now.Location())
	if err != nil {
		return false
	}
	endAt := time.Date(date.Year(), date.Month(), date.Day(), end.Hour(), end.Minute(), 0, 0, now.Location())
	return !now.Before(endAt)
}

// GroupSlots collapses work-schedule rows for one doctor+date into selectable
// slot options, one per distinct shift. Inactive rows are dropped; rows that
// share a shift are merged with their remaining capacity summed. The booking
// target is the first row of the shift that still has free capacity, so a
// merged option never points at a fully-booked row.
func GroupSlots(rows []WorkSchedule, now, date time.Time) []SlotOption {
	byShift := make(map[string]*SlotOption)
	targetLeft := make(map[string]int)
	order := make([]string, 0, len(rows))

	for i := range rows {
		row := &rows[i]
		if row.Status != "" && row.Status != "active" {
			continue
		}
		opt, ok := byShift[row.Shift.ID]
		if !ok {
			byShift[row.Shift.ID] = &SlotOption{
				WorkScheduleID: row.ID,
				Shift:          row.Shift,
				Remaining:      row.Remaining,
			}
			targetLeft[row.Shift.ID] = row.Remaining
			order = append(order, row.Shift.ID)
			continue
		}
		opt.Remaining += row.Remaining
		if targetLeft[row.Shift.ID] <= 0 && row.Remaining > 0 {
			opt.WorkScheduleID = row.ID
			targetLeft[row.Shift.ID] = row.Remaining
		}
	}

	options := make([]SlotOption, 0, len(order))
	for _, shiftID := range order {
		opt := byShift[shiftID]
		switch {
		case opt.Remaining <= 0:
			opt.Disabled = true
			opt.DisabledReason = "fully booked"
		case ShiftEnded(now, date, opt.Shift):
			opt.Disabled = true
			opt.DisabledReason = "shift has ended"
		}
		options = append(options, *opt)
	}

	sort.Slice(options, func(i, j int) bool {
		return options[i].Shift.Start < options[j].Shift.Start
	})
	return options
}

// GroupDates reduces a date-range listing to day-level availability so the
// date picker can mark days with nothing left to book. A day is available when
// at least one active row still has capacity, the day is inside the booking
// window, and the shift has not already ended today.
func GroupDates(rows []WorkSchedule, now time.Time, horizonDays int) []DateOption {
	available := make(map[string]bool)
	order := make([]string, 0, len(rows))

	for i := range rows {
		row := &rows[i]
		if _, seen := available[row.Date]; !seen {
			available[row.Date] = false
			order = append(order, row.Date)
		}
		if row.Status != "" && row.Status != "active" {
			continue
		}
		if row.Remaining <= 0 {
			continue
		}
		date, err := time.ParseInLocation(DateLayout, row.Date, now.Location())
		if err != nil {
			continue
		}
		if ShouldDisableDate(now, date, horizonDays) {
			continue
		}
		if ShiftEnded(now, date, row.Shift) {
			continue
		}
		available[row.Date] = true
	}

	sort.Strings(order)
	out := make([]DateOption, 0, len(order))
	for _, d := range order {
		out = append(out, DateOption{Date: d, Available: available[d]})
	}
	return out
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
