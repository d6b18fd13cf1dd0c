// Package worktime parses and formats the values a time entry is made of:
// calendar days, HH:MM durations and day ranges.
package worktime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"worklog/models"
)

const (
	DateLayout = "2006-01-02"

	// MaxMinutes is the longest duration a single entry may carry.
	MaxMinutes = 24 * 60
)

var (
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidDateRange = errors.New("invalid date range")
)

// ParseHHMM converts "H:MM" or "HH:MM" into minutes. The result is between
// 1 minute and 24 hours.
func ParseHHMM(value string) (int, error) {
	v := strings.TrimSpace(value)
	sep := strings.IndexByte(v, ':')
	if sep <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	hh, mm := v[:sep], v[sep+1:]
	if len(hh) > 2 || len(mm) != 2 || !digits(hh) || !digits(mm) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	total := h*60 + m
	if total == 0 || total > MaxMinutes {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDuration, value)
	}
	return total, nil
}

func FormatHHMM(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseDate parses a YYYY-MM-DD day into UTC midnight.
func ParseDate(value string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return d, nil
}

func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// Day truncates t to its calendar day, keeping the wall-clock date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func DayRange(d time.Time) models.DateRange {
	d = Day(d)
	return models.DateRange{From: d, To: d}
}

// FortnightRange is the 14 days ending on today, inclusive.
func FortnightRange(today time.Time) models.DateRange {
	today = Day(today)
	return models.DateRange{From: today.AddDate(0, 0, -13), To: today}
}

func MonthRange(d time.Time) models.DateRange {
	d = Day(d)
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return models.DateRange{From: first, To: first.AddDate(0, 1, -1)}
}

// ParseRange parses a from/to pair. The range must not be inverted.
func ParseRange(from, to string) (models.DateRange, error) {
	f, err := ParseDate(from)
	if err != nil {
		return models.DateRange{}, err
	}
	t, err := ParseDate(to)
	if err != nil {
		return models.DateRange{}, err
	}
	return NewRange(f, t)
}

func NewRange(from, to time.Time) (models.DateRange, error) {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return models.DateRange{}, fmt.Errorf("%w: %s after %s", ErrInvalidDateRange, FormatDate(from), FormatDate(to))
	}
	return models.DateRange{From: from, To: to}, nil
}
