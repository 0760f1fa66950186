package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Bytes(tt.bytes))
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "0", Number(0))
	assert.Equal(t, "999", Number(999))
	assert.Equal(t, "1,234,567", Number(1234567))
}

func TestCronDescription(t *testing.T) {
	tests := []struct {
		spec     string
		expected string
	}{
		{"@every 1h", "Every 1h"},
		{"@every 30m", "Every 30m"},
		{"@hourly", "Every hour"},
		{"@daily", "Daily at midnight"},
		{"@midnight", "Daily at midnight"},
		{"@weekly", "Sundays at midnight"},
		{"* * * * *", "Every minute"},
		{"*/15 * * * *", "Every 15 minutes"},
		{"0 */6 * * *", "Every 6 hours"},
		{"30 * * * *", "Every hour at :30"},
		{"0 * * * *", "Every hour"},
		{"0 2 * * *", "Daily at 2AM"},
		{"0 0 * * *", "Daily at midnight"},
		{"30 14 * * *", "Daily at 2:30PM"},
		{"0 3 * * 0", "Sundays at 3AM"},
		{"0 3 * * 1,5", "Mon, Fri at 3AM"},
		{"0 4 1 * *", "1st of each month at 4AM"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, CronDescription(tt.spec), "spec %q", tt.spec)
	}
}

func TestCronDescription_PassThrough(t *testing.T) {
	// Unrecognised specs come back unchanged.
	assert.Equal(t, "not a cron", CronDescription("not a cron"))
	assert.Equal(t, "@reboot", CronDescription("@reboot"))
}
