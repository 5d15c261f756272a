package utils

import (
	"fmt"
	"time"
)

// ParseDateFlag parses a date string in ISO format (YYYY-MM-DD) in the local
// timezone. An empty string returns nil, used to clear a due date.
func ParseDateFlag(dateStr string) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}

	parsedDate, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}

	return &parsedDate, nil
}

// ParseEstimateFlag parses an estimate such as "90m" or "2h" into whole
// minutes. An empty string returns nil.
func ParseEstimateFlag(value string) (*int, error) {
	if value == "" {
		return nil, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid estimate '%s': expected a duration such as 45m or 2h", value)
	}
	if d < 0 {
		return nil, fmt.Errorf("estimate cannot be negative: %s", value)
	}

	minutes := int(d.Round(time.Minute) / time.Minute)
	return &minutes, nil
}
