package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// parse parses a cron expression into a Schedule
func parse(expr string) (*Schedule, error) {
	// Split on whitespace
	fields := strings.Fields(expr)

	// Verify exactly 5 fields
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], "minute", 0, 59)
	if err != nil {
		return nil, err
	}

	hours, err := parseField(fields[1], "hour", 0, 23)
	if err != nil {
		return nil, err
	}

	daysOfMonth, err := parseField(fields[2], "day-of-month", 1, 31)
	if err != nil {
		return nil, err
	}

	months, err := parseField(fields[3], "month", 1, 12)
	if err != nil {
		return nil, err
	}

	daysOfWeek, err := parseField(fields[4], "day-of-week", 0, 6)
	if err != nil {
		return nil, err
	}

	// Validate impossible dates
	if err := validateImpossibleDates(daysOfMonth, months); err != nil {
		return nil, err
	}

	return &Schedule{
		minutes:     minutes,
		hours:       hours,
		daysOfMonth: daysOfMonth,
		months:      months,
		daysOfWeek:  daysOfWeek,
		original:    expr,
	}, nil
}

// parseField parses a single cron field: "*" or an integer within [min, max]
func parseField(field, name string, min, max int) ([]int, error) {
	if field == "*" {
		return expandRange(min, max), nil
	}

	val, err := strconv.Atoi(field)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %q", name, field)
	}

	if val < min || val > max {
		return nil, fmt.Errorf("%s must be %d-%d, got: %d", name, min, max, val)
	}

	return []int{val}, nil
}

// expandRange returns all values from min to max inclusive
func expandRange(min, max int) []int {
	result := make([]int, max-min+1)
	for i := range result {
		result[i] = min + i
	}
	return result
}

// validateImpossibleDates checks for impossible date combinations
// Only error if the schedule can never run (all months have no valid days)
func validateImpossibleDates(daysOfMonth, months []int) error {
	// Check if at least one month has at least one valid day
	for _, month := range months {
		maxDay := daysInMonth(month)
		for _, day := range daysOfMonth {
			if day <= maxDay {
				// Found at least one valid day in at least one month
				return nil
			}
		}
	}
	// No valid day/month combinations found - schedule will never run
	return fmt.Errorf("impossible date: no valid days exist for specified days %v in months %v", daysOfMonth, months)
}

// daysInMonth returns the maximum number of days in a given month
func daysInMonth(month int) int {
	switch month {
	case 2: // February
		return 29 // Allow leap year
	case 4, 6, 9, 11: // Apr, Jun, Sep, Nov
		return 30
	default: // Jan, Mar, May, Jul, Aug, Oct, Dec
		return 31
	}
}

// isLeapYear checks if a year is a leap year
func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// isValidDate checks if a date is valid (handles Feb 29 in non-leap years)
func isValidDate(year, month, day int) bool {
	if month == 2 && day == 29 {
		return isLeapYear(year)
	}
	return day <= daysInMonth(month)
}
