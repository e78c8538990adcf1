package format

import (
	"fmt"
	"time"
)

// FmtScore formats a score or impact with three decimals.
func FmtScore(v float64) string { return fmt.Sprintf("%.3f", v) }

// FmtImpact formats an optional impact; nil renders as "-".
func FmtImpact(v *float64) string {
	if v == nil {
		return "-"
	}
	return FmtScore(*v)
}

// FmtMillis formats a run duration given in milliseconds.
func FmtMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return FmtDuration(time.Duration(ms) * time.Millisecond)
}

// FmtDuration formats a duration as "Xm Ys" or "Ys".
func FmtDuration(d time.Duration) string {
	s := int(d.Seconds())
	if s >= 60 {
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
	return fmt.Sprintf("%ds", s)
}

// FmtTime formats a timestamp in UTC to the second; zero renders as "-".
func FmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Truncate shortens s to maxLen runes, ending in "..." when cut.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}
