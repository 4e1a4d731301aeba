package job

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind discriminates the schedule variants. The set is closed: adding a new
// variant means adding a constant and a case in Validate/NextRun.
type Kind string

const (
	KindOnce    Kind = "once"
	KindHourly  Kind = "hourly"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindCustom  Kind = "custom"
)

// cronParser accepts standard 5-field expressions (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleSpec is a tagged variant describing when a job fires.
//
// Recurring variants are computed in local wall-clock time. Around DST
// transitions a fire time can shift by up to one hour; that is the documented
// policy, not a bug.
//
// Field usage per kind:
//   - once:    At
//   - hourly:  Minute
//   - daily:   TimeOfDay ("HH:MM")
//   - weekly:  Weekday (0=Monday .. 6=Sunday), TimeOfDay
//   - monthly: Day (1..31, clamped to the target month's last day), TimeOfDay
//   - custom:  Expr (5-field cron)
type ScheduleSpec struct {
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at,omitempty"`
	Minute    int       `json:"minute,omitempty"`
	TimeOfDay string    `json:"time,omitempty"`
	Weekday   int       `json:"weekday,omitempty"`
	Day       int       `json:"day,omitempty"`
	Expr      string    `json:"expr,omitempty"`
}

// InvalidScheduleError reports a malformed schedule spec. It is raised at
// creation/update time, never at dispatch time.
type InvalidScheduleError struct {
	Kind   Kind
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	if e.Kind == "" {
		return "invalid schedule: " + e.Reason
	}
	return fmt.Sprintf("invalid %s schedule: %s", e.Kind, e.Reason)
}

func invalidSchedule(kind Kind, format string, args ...any) error {
	return &InvalidScheduleError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Constructors for the closed variant set.

func Once(at time.Time) ScheduleSpec  { return ScheduleSpec{Kind: KindOnce, At: at} }
func Hourly(minute int) ScheduleSpec  { return ScheduleSpec{Kind: KindHourly, Minute: minute} }
func Daily(at string) ScheduleSpec    { return ScheduleSpec{Kind: KindDaily, TimeOfDay: at} }
func Cron(expr string) ScheduleSpec   { return ScheduleSpec{Kind: KindCustom, Expr: expr} }
func Weekly(weekday int, at string) ScheduleSpec {
	return ScheduleSpec{Kind: KindWeekly, Weekday: weekday, TimeOfDay: at}
}
func Monthly(day int, at string) ScheduleSpec {
	return ScheduleSpec{Kind: KindMonthly, Day: day, TimeOfDay: at}
}

// Validate checks the spec eagerly so malformed schedules are rejected when a
// job is created or updated, not when the scheduler dispatches.
func (s ScheduleSpec) Validate() error {
	switch s.Kind {
	case KindOnce:
		if s.At.IsZero() {
			return invalidSchedule(s.Kind, "missing fire time")
		}
	case KindHourly:
		if s.Minute < 0 || s.Minute > 59 {
			return invalidSchedule(s.Kind, "minute %d out of range 0-59", s.Minute)
		}
	case KindDaily:
		if _, _, err := parseHHMM(s.TimeOfDay); err != nil {
			return invalidSchedule(s.Kind, "%v", err)
		}
	case KindWeekly:
		if s.Weekday < 0 || s.Weekday > 6 {
			return invalidSchedule(s.Kind, "weekday %d out of range 0-6", s.Weekday)
		}
		if _, _, err := parseHHMM(s.TimeOfDay); err != nil {
			return invalidSchedule(s.Kind, "%v", err)
		}
	case KindMonthly:
		if s.Day < 1 || s.Day > 31 {
			return invalidSchedule(s.Kind, "day %d out of range 1-31", s.Day)
		}
		if _, _, err := parseHHMM(s.TimeOfDay); err != nil {
			return invalidSchedule(s.Kind, "%v", err)
		}
	case KindCustom:
		if strings.TrimSpace(s.Expr) == "" {
			return invalidSchedule(s.Kind, "empty cron expression")
		}
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return invalidSchedule(s.Kind, "cron %q: %v", s.Expr, err)
		}
	default:
		return invalidSchedule(s.Kind, "unknown schedule kind")
	}
	return nil
}

// NextRun returns the smallest instant strictly after from that matches the
// spec, or ok=false when there is none (a Once schedule that already fired).
//
// The computation is pure: identical inputs always yield identical output.
// All recurring variants are closed-form; nothing iterates minute-by-minute,
// so a from far in the past (long downtime) is fine.
func (s ScheduleSpec) NextRun(from time.Time) (time.Time, bool) {
	switch s.Kind {
	case KindOnce:
		if s.At.After(from) {
			return s.At, true
		}
		return time.Time{}, false

	case KindHourly:
		next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.Minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.Add(time.Hour)
		}
		return next, true

	case KindDaily:
		hh, mm, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false
		}
		next := time.Date(from.Year(), from.Month(), from.Day(), hh, mm, 0, 0, from.Location())
		if !next.After(from) {
			next = time.Date(from.Year(), from.Month(), from.Day()+1, hh, mm, 0, 0, from.Location())
		}
		return next, true

	case KindWeekly:
		hh, mm, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false
		}
		// Spec weekday is 0=Monday; time.Weekday is 0=Sunday.
		target := time.Weekday((s.Weekday + 1) % 7)
		ahead := (int(target) - int(from.Weekday()) + 7) % 7
		next := time.Date(from.Year(), from.Month(), from.Day()+ahead, hh, mm, 0, 0, from.Location())
		if !next.After(from) {
			next = time.Date(from.Year(), from.Month(), from.Day()+ahead+7, hh, mm, 0, 0, from.Location())
		}
		return next, true

	case KindMonthly:
		hh, mm, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false
		}
		// A day-of-month beyond the target month's length rolls to the last
		// valid day of that month (documented policy, never skipped).
		next := monthlyCandidate(from.Year(), from.Month(), s.Day, hh, mm, from.Location())
		if !next.After(from) {
			y, m := from.Year(), from.Month()+1
			next = monthlyCandidate(y, m, s.Day, hh, mm, from.Location())
		}
		return next, true

	case KindCustom:
		sched, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, false
		}
		next := sched.Next(from)
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true
	}
	return time.Time{}, false
}

func monthlyCandidate(year int, month time.Month, day, hh, mm int, loc *time.Location) time.Time {
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hh, mm, 0, 0, loc)
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this month.
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
