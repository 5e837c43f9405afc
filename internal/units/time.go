package units

import (
	"fmt"
	"time"
)

// Layouts of the race start and end times in listings.
const (
	StartTimeLayout = "02.01.2006 15:04"
	EndTimeLayout   = "15:04"
)

// IsTimezoneValid reports whether tz names a zone in the tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// Location loads tz, with "" and "Local" meaning the host's zone.
func Location(tz string) (*time.Location, error) {
	switch tz {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}

// FormatStartTime renders a Unix second as a start time, "23.03.2024 12:35".
func FormatStartTime(unix int64, loc *time.Location) string {
	return time.Unix(unix, 0).In(loc).Format(StartTimeLayout)
}

// FormatEndTime renders a Unix second as a clock time, "13:05". Zero, a race
// that never ended, renders as "-".
func FormatEndTime(unix int64, loc *time.Location) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(unix, 0).In(loc).Format(EndTimeLayout)
}
