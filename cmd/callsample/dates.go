package main

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// dateRange localizes a start/end date pair to the target timezone and
// returns ISO-8601 bounds: start at midnight, end at end of day. An empty
// end defaults to today.
func dateRange(startStr, endStr, timezone string) (start, end string, err error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", "", fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	startDate, err := parseDate(startStr)
	if err != nil {
		return "", "", err
	}

	endDate := time.Now().In(loc)
	if endStr != "" {
		if endDate, err = parseDate(endStr); err != nil {
			return "", "", err
		}
	}

	if startDate.After(endDate) {
		return "", "", fmt.Errorf("start date %s is later than end date %s",
			startDate.Format(dateLayout), endDate.Format(dateLayout))
	}

	startLocal := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, loc)
	endLocal := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 23, 59, 59, 0, loc)
	return startLocal.Format(time.RFC3339), endLocal.Format(time.RFC3339), nil
}
