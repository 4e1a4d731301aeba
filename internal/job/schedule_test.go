package job

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		t.Fatalf("bad test time %q: %v", s, err)
	}
	return ts
}

func TestNextRunVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec ScheduleSpec
		from string
		want string
	}{
		{name: "daily before fire time", spec: Daily("09:00"), from: "2026-03-10 08:30:00", want: "2026-03-10 09:00:00"},
		{name: "daily after fire time", spec: Daily("09:00"), from: "2026-03-10 09:30:00", want: "2026-03-11 09:00:00"},
		{name: "daily exactly at fire time", spec: Daily("09:00"), from: "2026-03-10 09:00:00", want: "2026-03-11 09:00:00"},
		{name: "hourly before minute", spec: Hourly(30), from: "2026-03-10 08:10:00", want: "2026-03-10 08:30:00"},
		{name: "hourly after minute", spec: Hourly(30), from: "2026-03-10 08:45:00", want: "2026-03-10 09:30:00"},
		// 2026-03-11 is a Wednesday; weekday 0 is Monday.
		{name: "weekly monday from wednesday", spec: Weekly(0, "10:00"), from: "2026-03-11 12:00:00", want: "2026-03-16 10:00:00"},
		{name: "weekly same day before time", spec: Weekly(2, "18:00"), from: "2026-03-11 12:00:00", want: "2026-03-11 18:00:00"},
		{name: "weekly same day after time", spec: Weekly(2, "18:00"), from: "2026-03-11 19:00:00", want: "2026-03-18 18:00:00"},
		{name: "weekly sunday", spec: Weekly(6, "08:00"), from: "2026-03-11 12:00:00", want: "2026-03-15 08:00:00"},
		{name: "monthly plain", spec: Monthly(15, "12:00"), from: "2026-03-10 00:00:00", want: "2026-03-15 12:00:00"},
		{name: "monthly rollover", spec: Monthly(5, "12:00"), from: "2026-03-10 00:00:00", want: "2026-04-05 12:00:00"},
		// April has 30 days; day 31 clamps to the 30th.
		{name: "monthly day 31 in 30-day month", spec: Monthly(31, "00:00"), from: "2026-04-01 00:00:00", want: "2026-04-30 00:00:00"},
		// February 2026 is not a leap year.
		{name: "monthly day 31 in february", spec: Monthly(31, "09:00"), from: "2026-02-01 00:00:00", want: "2026-02-28 09:00:00"},
		{name: "cron every 15 minutes", spec: Cron("*/15 * * * *"), from: "2026-03-10 08:10:00", want: "2026-03-10 08:15:00"},
		{name: "cron daily midnight", spec: Cron("0 0 * * *"), from: "2026-03-10 08:10:00", want: "2026-03-11 00:00:00"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			from := mustTime(t, tt.from)
			got, ok := tt.spec.NextRun(from)
			if !ok {
				t.Fatalf("NextRun(%s) not ok", tt.from)
			}
			want := mustTime(t, tt.want)
			if !got.Equal(want) {
				t.Fatalf("NextRun(%s) = %s, want %s", tt.from, got, want)
			}
			if !got.After(from) {
				t.Fatalf("NextRun must be strictly after from: got %s, from %s", got, from)
			}
		})
	}
}

func TestNextRunOnce(t *testing.T) {
	t.Parallel()
	at := mustTime(t, "2026-03-10 09:00:00")
	spec := Once(at)

	got, ok := spec.NextRun(at.Add(-time.Hour))
	if !ok || !got.Equal(at) {
		t.Fatalf("future once: got %v ok=%v, want %v", got, ok, at)
	}

	if _, ok := spec.NextRun(at); ok {
		t.Fatal("once at its own instant must yield no next run")
	}
	if _, ok := spec.NextRun(at.Add(time.Hour)); ok {
		t.Fatal("past once must yield no next run")
	}
}

func TestNextRunDeterministic(t *testing.T) {
	t.Parallel()
	from := mustTime(t, "2026-03-10 08:30:00")
	specs := []ScheduleSpec{
		Daily("09:00"),
		Hourly(15),
		Weekly(3, "06:00"),
		Monthly(31, "23:00"),
		Cron("*/5 * * * *"),
	}
	for _, spec := range specs {
		first, ok1 := spec.NextRun(from)
		second, ok2 := spec.NextRun(from)
		if ok1 != ok2 || !first.Equal(second) {
			t.Fatalf("%s: NextRun not deterministic: %v/%v vs %v/%v", spec.Kind, first, ok1, second, ok2)
		}
	}
}

func TestNextRunLongDowntime(t *testing.T) {
	t.Parallel()
	// A from years in the past must still produce the correct next occurrence
	// without iterating through the gap.
	from := mustTime(t, "2020-01-01 00:00:00")
	got, ok := Daily("09:00").NextRun(from)
	if !ok {
		t.Fatal("not ok")
	}
	want := mustTime(t, "2020-01-01 09:00:00")
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestScheduleValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		spec    ScheduleSpec
		wantErr bool
	}{
		{name: "valid daily", spec: Daily("09:30")},
		{name: "valid hourly", spec: Hourly(0)},
		{name: "valid weekly", spec: Weekly(6, "23:59")},
		{name: "valid monthly", spec: Monthly(31, "00:00")},
		{name: "valid cron", spec: Cron("0 9 * * 1-5")},
		{name: "valid once", spec: Once(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))},
		{name: "once zero time", spec: ScheduleSpec{Kind: KindOnce}, wantErr: true},
		{name: "hourly minute too big", spec: Hourly(60), wantErr: true},
		{name: "hourly minute negative", spec: Hourly(-1), wantErr: true},
		{name: "daily bad time", spec: Daily("25:00"), wantErr: true},
		{name: "daily missing colon", spec: Daily("0900"), wantErr: true},
		{name: "weekly weekday out of range", spec: Weekly(7, "09:00"), wantErr: true},
		{name: "monthly day zero", spec: Monthly(0, "09:00"), wantErr: true},
		{name: "monthly day 32", spec: Monthly(32, "09:00"), wantErr: true},
		{name: "cron empty", spec: Cron(""), wantErr: true},
		{name: "cron six fields", spec: Cron("0 0 0 * * *"), wantErr: true},
		{name: "cron garbage", spec: Cron("not a cron"), wantErr: true},
		{name: "unknown kind", spec: ScheduleSpec{Kind: "biweekly"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.spec.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestInvalidScheduleErrorType(t *testing.T) {
	t.Parallel()
	err := Daily("nope").Validate()
	var invalid *InvalidScheduleError
	if !errors.As(err, &invalid) {
		t.Fatalf("want *InvalidScheduleError, got %T", err)
	}
	if invalid.Kind != KindDaily {
		t.Fatalf("Kind = %s, want %s", invalid.Kind, KindDaily)
	}
}

func TestScheduleJSONRoundTrip(t *testing.T) {
	t.Parallel()
	specs := []ScheduleSpec{
		Once(time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)),
		Hourly(45),
		Daily("09:00"),
		Weekly(0, "10:30"),
		Monthly(31, "23:00"),
		Cron("*/10 * * * *"),
	}
	for _, spec := range specs {
		b, err := json.Marshal(spec)
		if err != nil {
			t.Fatalf("%s: marshal: %v", spec.Kind, err)
		}
		var got ScheduleSpec
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("%s: unmarshal: %v", spec.Kind, err)
		}
		if got.Kind != spec.Kind || got.Minute != spec.Minute || got.TimeOfDay != spec.TimeOfDay ||
			got.Weekday != spec.Weekday || got.Day != spec.Day || got.Expr != spec.Expr || !got.At.Equal(spec.At) {
			t.Fatalf("%s: round trip mismatch: %+v vs %+v", spec.Kind, got, spec)
		}
	}
}
