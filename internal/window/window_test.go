package window

import (
	"testing"
	"time"

	"github.com/lendfield/rcs-dispatch/internal/model"
)

func budapestHours() model.OperatingHours {
	return model.OperatingHours{StartTime: "08:00", EndTime: "20:00", Timezone: "Europe/Budapest"}
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestContains(t *testing.T) {
	t.Parallel()

	loc := mustLoc(t, "Europe/Budapest")
	hours := budapestHours()

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid window", time.Date(2025, 3, 4, 12, 30, 0, 0, loc), true},
		{"at start", time.Date(2025, 3, 4, 8, 0, 0, 0, loc), true},
		{"just before start", time.Date(2025, 3, 4, 7, 59, 0, 0, loc), false},
		{"at end is excluded", time.Date(2025, 3, 4, 20, 0, 0, 0, loc), false},
		{"late evening", time.Date(2025, 3, 4, 22, 15, 0, 0, loc), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Contains(tc.at, hours)
			if err != nil {
				t.Fatalf("Contains: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Contains(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestContainsConvertsTimezone(t *testing.T) {
	t.Parallel()

	// 07:00 UTC is 08:00 in Budapest during winter, so the instant is
	// inside the window even though the UTC clock reads before start.
	at := time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)
	got, err := Contains(at, budapestHours())
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !got {
		t.Fatal("expected 07:00 UTC to be inside the Budapest window")
	}
}

func TestScheduleImmediateInsideWindow(t *testing.T) {
	t.Parallel()

	loc := mustLoc(t, "Europe/Budapest")
	now := time.Date(2025, 3, 4, 10, 15, 0, 0, loc)

	got, err := Schedule(now, 0, budapestHours())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("Schedule = %s, want now %s", got, now)
	}
}

func TestScheduleZeroDelayOutsideWindow(t *testing.T) {
	t.Parallel()

	loc := mustLoc(t, "Europe/Budapest")
	hours := budapestHours()

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			"after closing",
			time.Date(2025, 3, 4, 21, 30, 0, 0, loc),
			time.Date(2025, 3, 5, 8, 0, 0, 0, loc),
		},
		{
			"before opening still lands on the next day",
			time.Date(2025, 3, 4, 5, 45, 0, 0, loc),
			time.Date(2025, 3, 5, 8, 0, 0, 0, loc),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Schedule(tc.now, 0, hours)
			if err != nil {
				t.Fatalf("Schedule: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Schedule = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestScheduleDelayDaysLandOnWindowStart(t *testing.T) {
	t.Parallel()

	loc := mustLoc(t, "Europe/Budapest")
	hours := budapestHours()
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, loc)

	cases := []struct {
		delayDays int
		want      time.Time
	}{
		// candidate = now + N*24h, result = start of the following day
		{1, time.Date(2025, 3, 6, 8, 0, 0, 0, loc)},
		{2, time.Date(2025, 3, 7, 8, 0, 0, 0, loc)},
	}

	for _, tc := range cases {
		got, err := Schedule(now, tc.delayDays, hours)
		if err != nil {
			t.Fatalf("Schedule(%d): %v", tc.delayDays, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("Schedule(%d) = %s, want %s", tc.delayDays, got, tc.want)
		}
	}
}

func TestScheduleRollsOverMonthEnd(t *testing.T) {
	t.Parallel()

	loc := mustLoc(t, "Europe/Budapest")
	now := time.Date(2025, 1, 31, 21, 0, 0, 0, loc)

	got, err := Schedule(now, 0, budapestHours())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	want := time.Date(2025, 2, 1, 8, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("Schedule = %s, want %s", got, want)
	}
}

func TestScheduleBadConfig(t *testing.T) {
	t.Parallel()

	t.Run("unknown timezone", func(t *testing.T) {
		h := model.OperatingHours{StartTime: "08:00", EndTime: "20:00", Timezone: "Mars/Olympus"}
		if _, err := Schedule(time.Now(), 0, h); err == nil {
			t.Fatal("expected error for unknown timezone")
		}
	})

	t.Run("malformed start time", func(t *testing.T) {
		h := model.OperatingHours{StartTime: "8 o'clock", EndTime: "20:00", Timezone: "UTC"}
		if err := Validate(h); err == nil {
			t.Fatal("expected error for malformed start time")
		}
	})
}

func TestValidateAcceptsUTC(t *testing.T) {
	t.Parallel()

	h := model.OperatingHours{StartTime: "09:30", EndTime: "17:45", Timezone: "UTC"}
	if err := Validate(h); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
