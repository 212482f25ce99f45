package utils

import "time"

// DaysInMonth returns the number of days in a given month
func DaysInMonth(year, month int) int {
	if month == 2 {
		// Check for leap year
		if (year%4 == 0 && year%100 != 0) || (year%400 == 0) {
			return 29
		}
		return 28
	}

	// Months with 30 days: April, June, September, November
	if month == 4 || month == 6 || month == 9 || month == 11 {
		return 30
	}

	return 31
}

// MonthBounds returns the first and last instant of the calendar month that
// contains t, in t's location. Both ends are inclusive.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	y, m, _ := t.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	end := time.Date(y, m, DaysInMonth(y, int(m)), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
	return start, end
}

// Pagination normalises a 1-based page and page size into limit and offset.
// The offset is computed in int64 so any int32 page stays non-negative.
func Pagination(page, pageSize, maxPageSize int32) (limit int32, offset int64) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if maxPageSize > 0 && pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return pageSize, (int64(page) - 1) * int64(pageSize)
}
