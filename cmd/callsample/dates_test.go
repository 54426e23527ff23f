package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := parseDate("2022-12-01")
	require.NoError(t, err)
	assert.Equal(t, time.December, d.Month())

	_, err = parseDate("01-12-2022")
	assert.Error(t, err)
	_, err = parseDate("")
	assert.Error(t, err)
}

func TestDateRange(t *testing.T) {
	start, end, err := dateRange("2022-12-01", "2022-12-05", "Asia/Kolkata")
	require.NoError(t, err)
	assert.Equal(t, "2022-12-01T00:00:00+05:30", start)
	assert.Equal(t, "2022-12-05T23:59:59+05:30", end)
}

func TestDateRangeDefaultsEndToToday(t *testing.T) {
	start, end, err := dateRange("2022-12-01", "", "UTC")
	require.NoError(t, err)
	assert.Equal(t, "2022-12-01T00:00:00Z", start)

	today := time.Now().UTC().Format("2006-01-02")
	assert.Contains(t, end, today)
}

func TestDateRangeRejectsInvertedBounds(t *testing.T) {
	_, _, err := dateRange("2022-12-05", "2022-12-01", "UTC")
	assert.ErrorContains(t, err, "later than end date")
}

func TestDateRangeRejectsBadTimezone(t *testing.T) {
	_, _, err := dateRange("2022-12-01", "2022-12-05", "Mars/Olympus")
	assert.Error(t, err)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "csv", extension("csv"))
	assert.Equal(t, "csv", extension(""))
	assert.Equal(t, "sqlite", extension("sqlite"))
	assert.Equal(t, "yaml", extension("yaml"))
}
