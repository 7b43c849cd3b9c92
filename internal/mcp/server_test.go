package mcp

import (
	"testing"
	"time"
)

// TestDefaultTimeRange verifies time range defaults (last 30 days) and parsing.
func TestDefaultTimeRange(t *testing.T) {
	// Both empty → defaults to last 30 days
	start, end, err := defaultTimeRange("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	diff := end.Sub(start)
	if diff.Hours() < 29*24 || diff.Hours() > 31*24 {
		t.Errorf("default range = %.0f hours, want ~720", diff.Hours())
	}

	// Explicit dates
	start, end, err = defaultTimeRange("2025-01-01", "2025-01-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Format("2006-01-02") != "2025-01-01" {
		t.Errorf("start = %v, want 2025-01-01", start)
	}
	if end.Format("2006-01-02") != "2025-01-31" {
		t.Errorf("end = %v, want 2025-01-31", end)
	}

	// Garbage input
	if _, _, err := defaultTimeRange("not-a-date", ""); err == nil {
		t.Error("expected error for unparseable start")
	}
}

// TestParseFlexTime verifies both accepted formats.
func TestParseFlexTime(t *testing.T) {
	if _, err := parseFlexTime("2025-06-15"); err != nil {
		t.Errorf("date-only format rejected: %v", err)
	}
	got, err := parseFlexTime("2025-06-15T10:30:00Z")
	if err != nil {
		t.Fatalf("RFC3339 rejected: %v", err)
	}
	want := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parsed = %v, want %v", got, want)
	}
}
