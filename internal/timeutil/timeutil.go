// Package timeutil canonicalizes instants and derives partition keys.
//
// Every timestamp that crosses a store boundary (write, read, filter,
// checkpoint) passes through EnsureUTC. UTC is the only canonicalization
// policy: naive timestamp strings are interpreted as UTC.
package timeutil

import (
	"strings"
	"time"
)

// DayLayout is the partition-file day format (ISO calendar date).
const DayLayout = "2006-01-02"

// snapshotLayout is the compact snapshot token format: no colons, trailing Z.
const snapshotLayout = "2006-01-02T150405Z"

// unixEpoch is the default lower bound for open-started scans.
var unixEpoch = time.Unix(0, 0).UTC()

// naiveLayouts are accepted for timestamp strings without a zone offset.
// Values parsed with these layouts are interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnixEpoch returns the canonical epoch instant used when a caller leaves a
// range start unset.
func UnixEpoch() time.Time {
	return unixEpoch
}

// EnsureUTC converts an instant to UTC.
func EnsureUTC(t time.Time) time.Time {
	return t.UTC()
}

// PartitionDay returns the ISO date (YYYY-MM-DD) of the UTC-normalized
// instant. A partition file named <PartitionDay>.jsonl holds only records
// whose canonical UTC date equals that day.
func PartitionDay(t time.Time) string {
	return EnsureUTC(t).Format(DayLayout)
}

// SnapshotToken formats an instant for snapshot file names:
// 2026-02-05T120000Z. Compact so the token is safe in file names.
func SnapshotToken(t time.Time) string {
	return EnsureUTC(t).Format(snapshotLayout)
}

// FormatTimestamp serializes an instant as ISO-8601 UTC with a trailing Z.
// Sub-second precision is preserved when present.
func FormatTimestamp(t time.Time) string {
	return EnsureUTC(t).Format(time.RFC3339Nano)
}

// ParseTimestamp accepts an instant or a timestamp string and returns the
// UTC-normalized instant. Strings may carry a Z suffix, a numeric offset, or
// no zone at all (interpreted as UTC). Returns ok=false instead of an error
// when the value is not a parseable timestamp.
func ParseTimestamp(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return EnsureUTC(v), true
	case string:
		return parseTimestampString(v)
	default:
		return time.Time{}, false
	}
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return EnsureUTC(t), true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Days returns every ISO day in [start, end] inclusive, in chronological
// order. Both bounds are UTC-normalized first.
func Days(start, end time.Time) []string {
	startUTC := EnsureUTC(start)
	endUTC := EnsureUTC(end)

	cur := time.Date(startUTC.Year(), startUTC.Month(), startUTC.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(endUTC.Year(), endUTC.Month(), endUTC.Day(), 0, 0, 0, 0, time.UTC)

	var days []string
	for !cur.After(last) {
		days = append(days, cur.Format(DayLayout))
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}
