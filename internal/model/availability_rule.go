package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClockTime - время суток в минутах от полуночи (локальное время коуча)
type ClockTime int

// Clock собирает ClockTime из часов и минут
func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClock разбирает строку строго вида "HH:MM"; "24:00" - конец суток
func ParseClock(s string) (ClockTime, error) {
	if s == "24:00" {
		return Clock(24, 0), nil
	}
	if len(s) != len("15:04") {
		return 0, fmt.Errorf("parse clock %q: want HH:MM", s)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock(t.Hour(), t.Minute()), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// On возвращает момент времени этого ClockTime в указанный день и таймзону
func (c ClockTime) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, c.Hour(), c.Minute(), 0, 0, loc)
}

// AvailabilityRule представляет недельный шаблон рабочих часов коуча.
// Weekday по ISO-8601: 1 = понедельник, 7 = воскресенье.
type AvailabilityRule struct {
	ID          int64      `json:"id"`
	GroupID     uuid.UUID  `json:"group_id"` // пачка правил, записанная одним вызовом
	CoachID     int64      `json:"coach_id"`
	Weekday     int        `json:"weekday"`
	StartTime   ClockTime  `json:"start_time"`
	EndTime     ClockTime  `json:"end_time"`
	SlotMinutes int        `json:"slot_minutes"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"` // дата, включительно
	ValidTo     *time.Time `json:"valid_to,omitempty"`   // дата, включительно
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate проверяет инварианты правила
func (r *AvailabilityRule) Validate() error {
	if r.Weekday < 1 || r.Weekday > 7 {
		return fmt.Errorf("%w: weekday %d must be in 1..7", ErrInvalidRule, r.Weekday)
	}
	if r.StartTime < 0 || r.EndTime > Clock(24, 0) || r.StartTime >= r.EndTime {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidRule, r.StartTime, r.EndTime)
	}
	if r.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot_minutes must be positive", ErrInvalidRule)
	}
	if r.ValidFrom != nil && r.ValidTo != nil && CivilDate(*r.ValidTo).Before(CivilDate(*r.ValidFrom)) {
		return fmt.Errorf("%w: valid_to before valid_from", ErrInvalidRule)
	}
	return nil
}

// ActiveOn проверяет окно действия правила для календарной даты (year, month, day)
func (r *AvailabilityRule) ActiveOn(year int, month time.Month, day int) bool {
	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if r.ValidFrom != nil && date.Before(CivilDate(*r.ValidFrom)) {
		return false
	}
	if r.ValidTo != nil && date.After(CivilDate(*r.ValidTo)) {
		return false
	}
	return true
}

// ISOWeekday возвращает день недели по ISO-8601 (1 = понедельник ... 7 = воскресенье)
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// CivilDate отбрасывает время и таймзону, оставляя календарную дату в UTC
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
