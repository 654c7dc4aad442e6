package calendar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Dubai must resolve on minimal images

	"github.com/smallbiznis/reminder/internal/consolidation/domain"
)

const maxSearchDays = 370

type Config struct {
	Timezone  string
	Workdays  []string
	OpenTime  string
	CloseTime string
	Holidays  []string
	Blackouts []Blackout
}

type Blackout struct {
	Name     string
	Weekdays []string
	Start    string
	End      string
}

type window struct {
	name     string
	weekdays map[time.Weekday]bool
	start    time.Duration
	end      time.Duration
}

func (w window) appliesTo(day time.Weekday) bool {
	return len(w.weekdays) == 0 || w.weekdays[day]
}

// Calendar decides when a reminder may go out: workdays within business
// hours, outside holidays and blackout windows such as Friday prayer.
type Calendar struct {
	loc       *time.Location
	workdays  map[time.Weekday]bool
	open      time.Duration
	close     time.Duration
	holidays  map[string]bool
	blackouts []window
}

var _ domain.BusinessCalendar = (*Calendar)(nil)

func New(cfg Config) (*Calendar, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "Asia/Dubai"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calendar timezone %q: %w", tz, err)
	}

	workdays, err := parseWeekdays(cfg.Workdays)
	if err != nil {
		return nil, err
	}
	if len(workdays) == 0 {
		return nil, fmt.Errorf("calendar needs at least one workday")
	}

	open, err := parseClock(cfg.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("calendar open time: %w", err)
	}
	closing, err := parseClock(cfg.CloseTime)
	if err != nil {
		return nil, fmt.Errorf("calendar close time: %w", err)
	}
	if closing <= open {
		return nil, fmt.Errorf("calendar close time must be after open time")
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, raw := range cfg.Holidays {
		day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(raw), loc)
		if err != nil {
			return nil, fmt.Errorf("calendar holiday %q: %w", raw, err)
		}
		holidays[day.Format(time.DateOnly)] = true
	}

	blackouts := make([]window, 0, len(cfg.Blackouts))
	for _, b := range cfg.Blackouts {
		start, err := parseClock(b.Start)
		if err != nil {
			return nil, fmt.Errorf("blackout %q start: %w", b.Name, err)
		}
		end, err := parseClock(b.End)
		if err != nil {
			return nil, fmt.Errorf("blackout %q end: %w", b.Name, err)
		}
		if end <= start {
			return nil, fmt.Errorf("blackout %q must end after it starts", b.Name)
		}
		days, err := parseWeekdays(b.Weekdays)
		if err != nil {
			return nil, err
		}
		blackouts = append(blackouts, window{name: b.Name, weekdays: days, start: start, end: end})
	}

	return &Calendar{
		loc:       loc,
		workdays:  workdays,
		open:      open,
		close:     closing,
		holidays:  holidays,
		blackouts: blackouts,
	}, nil
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsValid reports whether t falls inside a sendable slot.
func (c *Calendar) IsValid(t time.Time) bool {
	local := t.In(c.loc)
	if !c.isBusinessDay(local) {
		return false
	}
	tod := sinceMidnight(local)
	if tod < c.open || tod >= c.close {
		return false
	}
	for _, b := range c.blackouts {
		if b.appliesTo(local.Weekday()) && tod >= b.start && tod < b.end {
			return false
		}
	}
	return true
}

// NextValidSlot returns t unchanged when it is sendable, otherwise the
// earliest later instant that is. Results are in UTC.
func (c *Calendar) NextValidSlot(ctx context.Context, t time.Time) (time.Time, error) {
	local := t.In(c.loc)
	limit := local.AddDate(0, 0, maxSearchDays)

	for local.Before(limit) {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}

		if !c.isBusinessDay(local) {
			local = c.at(local.AddDate(0, 0, 1), c.open)
			continue
		}

		tod := sinceMidnight(local)
		if tod < c.open {
			local = c.at(local, c.open)
			continue
		}
		if tod >= c.close {
			local = c.at(local.AddDate(0, 0, 1), c.open)
			continue
		}

		moved := false
		for _, b := range c.blackouts {
			if b.appliesTo(local.Weekday()) && tod >= b.start && tod < b.end {
				local = c.at(local, b.end)
				moved = true
				break
			}
		}
		if moved {
			continue
		}
		return local.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: nothing sendable within %d days of %s", domain.ErrNoValidSlot, maxSearchDays, t.UTC().Format(time.RFC3339))
}

func (c *Calendar) isBusinessDay(local time.Time) bool {
	return c.workdays[local.Weekday()] && !c.holidays[local.Format(time.DateOnly)]
}

// at returns the instant offset into the local day of ref.
func (c *Calendar) at(ref time.Time, offset time.Duration) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc).Add(offset)
}

func sinceMidnight(local time.Time) time.Duration {
	y, m, d := local.Date()
	return local.Sub(time.Date(y, m, d, 0, 0, 0, 0, local.Location()))
}

func parseClock(raw string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekdays(names []string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		days[day] = true
	}
	return days, nil
}
