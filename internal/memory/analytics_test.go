package memory

import (
	"testing"
	"time"
)

func TestAccessFrequency(t *testing.T) {
	cases := []struct {
		usage int
		want  AccessFrequency
	}{
		{0, FrequencyUnused},
		{1, FrequencyLow},
		{5, FrequencyLow},
		{6, FrequencyMedium},
		{20, FrequencyMedium},
		{21, FrequencyHigh},
		{50, FrequencyHigh},
		{51, FrequencyVeryHigh},
	}
	for _, c := range cases {
		if got := accessFrequency(c.usage); got != c.want {
			t.Errorf("accessFrequency(%d) = %s, want %s", c.usage, got, c.want)
		}
	}
}

func TestRecencyScore(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		ago  time.Duration
		want float64
	}{
		{0, 1.0},
		{6 * 24 * time.Hour, 1.0},
		{20 * 24 * time.Hour, 0.8},
		{60 * 24 * time.Hour, 0.5},
		{120 * 24 * time.Hour, 0.3},
	}
	for _, c := range cases {
		la := now.Add(-c.ago)
		if got := recencyScore(&la, now); got != c.want {
			t.Errorf("recencyScore(ago=%v) = %v, want %v", c.ago, got, c.want)
		}
	}
	if got := recencyScore(nil, now); got != 0.0 {
		t.Errorf("recencyScore(nil) = %v, want 0.0", got)
	}
}

func TestProjectAnalytics_DaysSinceAccess(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	la := now.Add(-120 * 24 * time.Hour)
	m := &Memory{UsageCount: 0, LastAccessed: &la}
	a := ProjectAnalytics(m, now)
	if a.DaysSinceAccess == nil || *a.DaysSinceAccess != 120 {
		t.Errorf("DaysSinceAccess = %v, want 120", a.DaysSinceAccess)
	}
	if a.AccessFrequency != FrequencyUnused {
		t.Errorf("AccessFrequency = %s, want unused", a.AccessFrequency)
	}
}
