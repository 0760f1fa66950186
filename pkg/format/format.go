// Package format provides human-readable formatting helpers for log and
// CLI output.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bytes formats a byte count into human-readable format.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	sizes := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp]) //nolint:gosec // G602: exp max is 4 (1024^6 > int64 max)
}

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// CronDescription returns a human-readable description of a sweep schedule:
// either a cron descriptor ("@every 1h", "@daily") or a standard 5-field
// cron expression (minutes hours day-of-month month day-of-week).
// Example: CronDescription("0 2 * * *") => "Daily at 2AM"
func CronDescription(spec string) string {
	spec = strings.TrimSpace(spec)

	if strings.HasPrefix(spec, "@") {
		return describeDescriptor(spec)
	}

	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return spec
	}
	min, hour, dayOfMonth, _, dayOfWeek := fields[0], fields[1], fields[2], fields[3], fields[4]

	// Every minute
	if min == "*" && hour == "*" && dayOfMonth == "*" && dayOfWeek == "*" {
		return "Every minute"
	}

	// Minute intervals
	if strings.Contains(min, "/") {
		if interval := extractInterval(min); interval > 0 {
			return fmt.Sprintf("Every %d minutes", interval)
		}
	}

	// Hour intervals
	if strings.Contains(hour, "/") {
		if interval := extractInterval(hour); interval > 0 {
			if interval == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", interval)
		}
	}

	// Every hour at specific minute
	if hour == "*" {
		if m, err := strconv.Atoi(min); err == nil {
			if m == 0 {
				return "Every hour"
			}
			return fmt.Sprintf("Every hour at :%02d", m)
		}
	}

	h, hErr := strconv.Atoi(hour)
	m, mErr := strconv.Atoi(min)
	if hErr != nil || mErr != nil {
		return spec
	}
	timeStr := formatTime(h, m)

	// Day of week patterns
	if dayOfWeek != "*" && dayOfMonth == "*" {
		if strings.Contains(dayOfWeek, ",") {
			days := strings.Split(dayOfWeek, ",")
			names := make([]string, len(days))
			for i, d := range days {
				names[i] = shortDayName(d)
			}
			return fmt.Sprintf("%s at %s", strings.Join(names, ", "), timeStr)
		}
		return fmt.Sprintf("%ss at %s", fullDayName(dayOfWeek), timeStr)
	}

	// Day of month patterns
	if dayOfMonth != "*" {
		if d, err := strconv.Atoi(dayOfMonth); err == nil {
			return fmt.Sprintf("%s of each month at %s", ordinal(d), timeStr)
		}
	}

	return fmt.Sprintf("Daily at %s", timeStr)
}

func describeDescriptor(spec string) string {
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		return "Every " + strings.TrimSpace(rest)
	}
	switch spec {
	case "@hourly":
		return "Every hour"
	case "@daily", "@midnight":
		return "Daily at midnight"
	case "@weekly":
		return "Sundays at midnight"
	case "@monthly":
		return "1st of each month at midnight"
	case "@yearly", "@annually":
		return "Yearly on January 1st"
	}
	return spec
}

func extractInterval(field string) int {
	idx := strings.Index(field, "/")
	if idx < 0 {
		return 0
	}
	interval, err := strconv.Atoi(field[idx+1:])
	if err != nil {
		return 0
	}
	return interval
}

func formatTime(hour, minute int) string {
	if hour == 0 && minute == 0 {
		return "midnight"
	}
	if hour == 12 && minute == 0 {
		return "noon"
	}

	period := "AM"
	hour12 := hour
	if hour >= 12 {
		period = "PM"
		if hour > 12 {
			hour12 = hour - 12
		}
	}
	if hour == 0 {
		hour12 = 12
	}

	if minute == 0 {
		return fmt.Sprintf("%d%s", hour12, period)
	}
	return fmt.Sprintf("%d:%02d%s", hour12, minute, period)
}

var dayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
var shortDayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func fullDayName(day string) string {
	if d, err := strconv.Atoi(day); err == nil && d >= 0 && d < 7 {
		return dayNames[d]
	}
	return day
}

func shortDayName(day string) string {
	if d, err := strconv.Atoi(day); err == nil && d >= 0 && d < 7 {
		return shortDayNames[d]
	}
	return day
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			suffix = "st"
		}
	case 2:
		if n%100 != 12 {
			suffix = "nd"
		}
	case 3:
		if n%100 != 13 {
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
