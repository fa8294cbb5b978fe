package eligibility

import (
	"errors"
	"testing"
	"time"

	"github.com/Seal1026/roosterProj/internal/model"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func basePrompt(freq model.Frequency, last *time.Time) model.ScheduledPrompt {
	return model.ScheduledPrompt{
		ID:            "p1",
		Destination:   "a@example.com",
		PromptText:    "news",
		Frequency:     freq,
		WindowStart:   at("2022-01-01T00:00:00"),
		WindowEnd:     at("2030-01-01T00:00:00"),
		LastProcessed: last,
		IsActive:      true,
	}
}

func TestIsDue_InactiveNeverDue(t *testing.T) {
	t.Parallel()

	for _, f := range []model.Frequency{model.Hourly, model.Daily, model.BiDaily, model.Weekly, model.Monthly, "yearly"} {
		p := basePrompt(f, nil)
		p.IsActive = false

		due, err := IsDue(p, at("2023-06-01T12:00:00"))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", f, err)
		}
		if due {
			t.Fatalf("%s: expected inactive prompt not to be due", f)
		}
	}
}

func TestIsDue_Window(t *testing.T) {
	t.Parallel()

	p := basePrompt(model.Hourly, nil)
	p.WindowStart = at("2023-01-01T09:00:00")
	p.WindowEnd = at("2023-01-01T17:00:00")

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", at("2023-01-01T08:59:59"), false},
		{"at start", at("2023-01-01T09:00:00"), true},
		{"inside", at("2023-01-01T12:00:00"), true},
		{"at end", at("2023-01-01T17:00:00"), true},
		{"after end", at("2023-01-01T17:00:01"), false},
	}

	for _, tc := range cases {
		got, err := IsDue(p, tc.now)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsDue_Frequencies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		freq model.Frequency
		last *time.Time
		now  time.Time
		want bool
	}{
		{"hourly never run", model.Hourly, nil, at("2023-01-01T10:00:00"), true},
		{"hourly 59m59s", model.Hourly, ptr(at("2023-01-01T10:00:00")), at("2023-01-01T10:59:59"), false},
		{"hourly exactly 1h", model.Hourly, ptr(at("2023-01-01T10:00:00")), at("2023-01-01T11:00:00"), true},
		{"hourly across midnight under 1h", model.Hourly, ptr(at("2023-01-01T23:59:00")), at("2023-01-02T00:00:00"), false},

		{"daily never run", model.Daily, nil, at("2023-01-01T10:00:00"), true},
		{"daily same day", model.Daily, ptr(at("2023-01-01T00:01:00")), at("2023-01-01T23:59:00"), false},
		{"daily calendar rollover", model.Daily, ptr(at("2023-01-01T23:59:00")), at("2023-01-02T00:00:00"), true},
		{"daily same day different month", model.Daily, ptr(at("2023-01-05T10:00:00")), at("2023-02-05T10:00:00"), true},

		{"bi-daily 47h", model.BiDaily, ptr(at("2023-01-01T10:00:00")), at("2023-01-03T09:00:00"), false},
		{"bi-daily 48h", model.BiDaily, ptr(at("2023-01-01T10:00:00")), at("2023-01-03T10:00:00"), true},

		{"weekly 6d23h", model.Weekly, ptr(at("2023-01-01T10:00:00")), at("2023-01-08T09:00:00"), false},
		{"weekly 168h", model.Weekly, ptr(at("2023-01-01T10:00:00")), at("2023-01-08T10:00:00"), true},

		{"monthly same month", model.Monthly, ptr(at("2023-01-01T00:00:00")), at("2023-01-31T23:59:59"), false},
		{"monthly rolled over", model.Monthly, ptr(at("2023-01-31T12:00:00")), at("2023-02-01T00:00:00"), true},
		{"monthly same month next year", model.Monthly, ptr(at("2023-01-15T12:00:00")), at("2024-01-15T12:00:00"), true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := IsDue(basePrompt(tc.freq, tc.last), tc.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestIsDue_UnsupportedFrequencyIsAnError(t *testing.T) {
	t.Parallel()

	due, err := IsDue(basePrompt("yearly", nil), at("2023-01-01T10:00:00"))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, model.ErrUnsupportedFrequency) {
		t.Fatalf("expected ErrUnsupportedFrequency, got %v", err)
	}
	if due {
		t.Fatalf("expected due=false alongside error")
	}
}

func TestIsDue_CalendarUsesNowLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("UTC+9", 9*60*60)

	// 2023-01-01T20:00Z is 2023-01-02T05:00 in UTC+9.
	last := time.Date(2023, 1, 1, 20, 0, 0, 0, time.UTC)
	now := time.Date(2023, 1, 2, 6, 0, 0, 0, tokyo)

	due, err := IsDue(basePrompt(model.Daily, &last), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due {
		t.Fatalf("expected same local day not to be due")
	}
}
