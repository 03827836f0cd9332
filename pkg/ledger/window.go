package ledger

import "time"

// WindowDuration returns the accumulation window length for a duration
// class. Monthly is a fixed 30-day approximation, not calendar-month
// aware; callers that need calendar-accurate billing must not rely on it.
func WindowDuration(class DurationClass) time.Duration {
	switch class {
	case DurationWeekly:
		return 7 * 24 * time.Hour
	case DurationMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// WindowElapsed reports whether the accumulation window that began at
// windowStart has elapsed by now. Pure and deterministic.
func WindowElapsed(windowStart time.Time, class DurationClass, now time.Time) bool {
	return now.Sub(windowStart) >= WindowDuration(class)
}
