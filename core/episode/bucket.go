package episode

import (
	"fmt"
	"time"
)

// =============================================================================
// Time Buckets
// =============================================================================

// Granularity is the coarseness of a time bucket.
type Granularity string

const (
	GranularityWeekly    Granularity = "weekly"
	GranularityMonthly   Granularity = "monthly"
	GranularityQuarterly Granularity = "quarterly"
)

// GranularityForAge selects a bucket granularity from episode age: recent
// episodes cluster weekly, medium-age monthly, old quarterly.
func GranularityForAge(t, ref time.Time) Granularity {
	age := ref.Sub(t)
	switch {
	case age < 30*24*time.Hour:
		return GranularityWeekly
	case age < 180*24*time.Hour:
		return GranularityMonthly
	default:
		return GranularityQuarterly
	}
}

// BucketKey formats a timestamp into a sortable bucket key for the given
// granularity. Keys at the same granularity compare chronologically as
// strings.
func BucketKey(t time.Time, g Granularity) string {
	t = t.UTC()
	switch g {
	case GranularityWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case GranularityMonthly:
		return t.Format("2006-01")
	case GranularityQuarterly:
		quarter := (int(t.Month())-1)/3 + 1
		return fmt.Sprintf("%04d-Q%d", t.Year(), quarter)
	default:
		return t.Format("2006-01")
	}
}

// BucketBounds returns the [start, end) time window for a bucket containing
// the given timestamp.
func BucketBounds(t time.Time, g Granularity) (time.Time, time.Time) {
	t = t.UTC()
	switch g {
	case GranularityWeekly:
		daysSinceMonday := (int(t.Weekday()) + 6) % 7
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -daysSinceMonday)
		return start, start.AddDate(0, 0, 7)
	case GranularityMonthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	case GranularityQuarterly:
		quarterMonth := time.Month(((int(t.Month())-1)/3)*3 + 1)
		start := time.Date(t.Year(), quarterMonth, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 3, 0)
	default:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
}
