package cron

import (
	"time"
)

// Schedule represents a parsed five-field cron expression
type Schedule struct {
	// Each field stores all valid values for that field
	minutes     []int // 0-59
	hours       []int // 0-23
	daysOfMonth []int // 1-31
	months      []int // 1-12
	daysOfWeek  []int // 0-6 (0=Sunday)

	// Store original expression for debugging
	original string
}

// Parse parses a cron expression and validates all constraints
// Returns error if:
// - Format is invalid (not 5 fields)
// - Any field is neither "*" nor an integer within its legal range
// - Impossible dates are specified (e.g., day 31 in a schedule restricted to April)
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// String returns the original expression
func (cs *Schedule) String() string {
	return cs.original
}

// Matches reports whether t falls on the schedule, at minute granularity
func (cs *Schedule) Matches(t time.Time) bool {
	return contains(cs.minutes, t.Minute()) &&
		contains(cs.hours, t.Hour()) &&
		cs.matchesDayConstraints(t) &&
		contains(cs.months, int(t.Month()))
}

// Next calculates the next N occurrences of this schedule after the given time
// "After" means strictly after - if 'after' is exactly at a scheduled time, that time is NOT included
// The time is evaluated in the location it carries
func (cs *Schedule) Next(after time.Time, count int) []time.Time {
	results := make([]time.Time, 0, count)

	// Start checking from the next minute after 'after'
	current := after.Truncate(time.Minute).Add(time.Minute)

	for len(results) < count {
		if cs.Matches(current) {
			results = append(results, current)
		}
		current = current.Add(time.Minute)
	}

	return results
}

// matchesDayConstraints handles the special day-of-month vs day-of-week logic
//
// Cron standard behavior:
// - If both day-of-month and day-of-week are restricted (not *): match if EITHER matches (OR logic)
// - If only one is restricted: match on that field only
// - If both are *: match any day
func (cs *Schedule) matchesDayConstraints(t time.Time) bool {
	// Check if fields are restricted (not all possible values)
	domRestricted := len(cs.daysOfMonth) < 31
	dowRestricted := len(cs.daysOfWeek) < 7

	if domRestricted && dowRestricted {
		// OR logic: either day-of-month OR day-of-week must match
		domMatch := contains(cs.daysOfMonth, t.Day())
		dowMatch := contains(cs.daysOfWeek, int(t.Weekday()))

		// Also need to validate the date is actually valid (Feb 29 in non-leap year)
		if domMatch && !isValidDate(t.Year(), int(t.Month()), t.Day()) {
			domMatch = false
		}

		return domMatch || dowMatch
	} else if domRestricted {
		// Only day-of-month is restricted
		if !contains(cs.daysOfMonth, t.Day()) {
			return false
		}
		return isValidDate(t.Year(), int(t.Month()), t.Day())
	} else if dowRestricted {
		// Only day-of-week is restricted
		return contains(cs.daysOfWeek, int(t.Weekday()))
	}

	// Both unrestricted, match any day
	return isValidDate(t.Year(), int(t.Month()), t.Day())
}

// contains checks if a slice contains a value
func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
