package subscription

import (
	"strings"
	"time"
)

// Frequency is the billing cadence of a subscription.
type Frequency string

// Supported frequencies.
const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// DefaultFrequency applies when none is given or the value is unknown.
const DefaultFrequency = Monthly

// ParseFrequency normalizes user input. Aliases "bi-weekly" and
// "fortnightly" map to Biweekly; anything unrecognised maps to Monthly.
func ParseFrequency(s string) Frequency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly":
		return Weekly
	case "biweekly", "bi-weekly", "fortnightly":
		return Biweekly
	case "monthly":
		return Monthly
	default:
		return DefaultFrequency
	}
}

// Days returns the length of one period in days.
func (f Frequency) Days() int {
	switch f {
	case Weekly:
		return 7
	case Biweekly:
		return 14
	default:
		return 30
	}
}

// Interval returns the length of one period.
func (f Frequency) Interval() time.Duration {
	return DaysToInterval(f.Days())
}

// DaysToInterval converts a day count into a duration.
func DaysToInterval(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
