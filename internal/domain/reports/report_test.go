package reports

import (
	"testing"
	"time"
)

func TestWeekStartOf(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	cases := []struct {
		name string
		in   time.Time
		loc  *time.Location
		want string
	}{
		{"monday stays", time.Date(2025, 8, 11, 12, 0, 0, 0, time.UTC), time.UTC, "2025-08-11"},
		{"sunday rolls back", time.Date(2025, 8, 17, 23, 59, 0, 0, time.UTC), time.UTC, "2025-08-11"},
		{"midweek", time.Date(2025, 8, 14, 20, 0, 0, 0, time.UTC), time.UTC, "2025-08-11"},
		// 2025-08-11 00:30 UTC is still Sunday evening in New York.
		{"local date decides", time.Date(2025, 8, 11, 0, 30, 0, 0, time.UTC), ny, "2025-08-04"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WeekStartOf(tc.in, tc.loc)
			if got.Format(DateLayout) != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Format(DateLayout))
			}
			if got.Weekday() != time.Monday {
				t.Fatalf("week start %s is not a Monday", got.Format(DateLayout))
			}
		})
	}
}

func TestTrendOf(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	cases := []struct {
		name     string
		current  *float64
		previous *float64
		want     string
	}{
		{"no prior report", f(7), nil, TrendStable},
		{"no current mood", nil, f(7), TrendStable},
		{"within threshold up", f(7.4), f(7.0), TrendStable},
		{"within threshold down", f(6.6), f(7.0), TrendStable},
		{"at threshold up", f(7.5), f(7.0), TrendImproving},
		{"at threshold down", f(6.5), f(7.0), TrendDeclining},
		{"clear improvement", f(9.0), f(5.0), TrendImproving},
		{"clear decline", f(3.0), f(8.0), TrendDeclining},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TrendOf(tc.current, tc.previous); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
