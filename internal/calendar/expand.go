package calendar

import (
	"fmt"
	"time"

	"github.com/Freeeeeet/coach_agenda/internal/model"
)

const defaultSlotMinutes = 60

// ExpandInput - всё, что нужно для развёртки расписания коуча на период [From, To)
type ExpandInput struct {
	Rules    []*model.AvailabilityRule
	Extras   []Interval // исключения типа extra, UTC
	Blocked  []Interval // исключения типа blocked, UTC
	Location *time.Location
	From     time.Time
	To       time.Time
	// ExtraSlotMinutes - шаг нарезки для окон, добавленных только через extra
	ExtraSlotMinutes int
}

// Window - кандидатное окно с шагом нарезки на слоты
type Window struct {
	Interval
	SlotMinutes int
}

func (w Window) Step() time.Duration {
	return time.Duration(w.SlotMinutes) * time.Minute
}

// Day - результат развёртки одного локального дня коуча
type Day struct {
	Date    time.Time // полночь по времени коуча
	Open    []Window  // объединение правил и extra до вычитания blocked
	Blocked Set       // blocked-исключения внутри Open
	Windows []Window  // Open за вычетом Blocked
}

// Sequence лениво отдаёт дни по порядку. Reset начинает обход заново,
// повторный обход даёт тот же результат.
type Sequence struct {
	in      ExpandInput
	loc     *time.Location
	byDay   [8][]*model.AvailabilityRule
	extras  Set
	blocked Set
	bounds  Interval
	cursor  time.Time
}

// SplitExceptions раскладывает исключения на extra и blocked интервалы
func SplitExceptions(exceptions []*model.AvailabilityException) (extras, blocked []Interval) {
	for _, e := range exceptions {
		iv := Interval{Start: e.StartAt.UTC(), End: e.EndAt.UTC()}
		switch e.Type {
		case model.ExceptionExtra:
			extras = append(extras, iv)
		case model.ExceptionBlocked:
			blocked = append(blocked, iv)
		}
	}
	return extras, blocked
}

// NewSequence проверяет вход и готовит ленивую развёртку.
// Порядок наложения фиксирован: объединение правил, затем extra, затем вычитание blocked.
func NewSequence(in ExpandInput) (*Sequence, error) {
	if !in.From.Before(in.To) {
		return nil, &model.InvalidRangeError{From: in.From, To: in.To}
	}

	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	if in.ExtraSlotMinutes <= 0 {
		in.ExtraSlotMinutes = defaultSlotMinutes
	}

	s := &Sequence{
		in:      in,
		loc:     loc,
		extras:  Normalize(in.Extras),
		blocked: Normalize(in.Blocked),
		bounds:  Interval{Start: in.From.UTC(), End: in.To.UTC()},
	}

	for _, r := range in.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", r.ID, err)
		}
		s.byDay[r.Weekday] = append(s.byDay[r.Weekday], r)
	}

	s.Reset()
	return s, nil
}

// Expand - развёртка целиком, для небольших периодов
func Expand(in ExpandInput) ([]Day, error) {
	seq, err := NewSequence(in)
	if err != nil {
		return nil, err
	}
	return seq.All(), nil
}

// Reset возвращает курсор к началу периода
func (s *Sequence) Reset() {
	s.cursor = s.bounds.Start
}

// All обходит период заново и возвращает все дни
func (s *Sequence) All() []Day {
	s.Reset()
	var days []Day
	for {
		day, ok := s.Next()
		if !ok {
			break
		}
		days = append(days, day)
	}
	s.Reset()
	return days
}

type source struct {
	iv          Interval
	slotMinutes int
}

// Next возвращает следующий локальный день периода
func (s *Sequence) Next() (Day, bool) {
	if !s.cursor.Before(s.bounds.End) {
		return Day{}, false
	}

	y, m, d := s.cursor.In(s.loc).Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	dayEnd := time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)
	s.cursor = dayEnd.UTC()

	clip := Interval{Start: later(dayStart.UTC(), s.bounds.Start), End: earlier(dayEnd.UTC(), s.bounds.End)}

	var sources []source
	for _, r := range s.byDay[model.ISOWeekday(dayStart)] {
		if !r.ActiveOn(y, m, d) {
			continue
		}
		sources = append(sources, source{
			iv: Interval{
				Start: r.StartTime.On(y, m, d, s.loc).UTC(),
				End:   r.EndTime.On(y, m, d, s.loc).UTC(),
			},
			slotMinutes: r.SlotMinutes,
		})
	}
	for _, e := range s.extras.Overlapping(clip) {
		sources = append(sources, source{iv: e, slotMinutes: s.in.ExtraSlotMinutes})
	}

	raw := make([]Interval, 0, len(sources))
	for _, src := range sources {
		raw = append(raw, src.iv)
	}
	open := Normalize(raw).Clip(clip)
	blocked := s.blocked.Intersect(open)
	final := open.Subtract(blocked)

	return Day{
		Date:    dayStart,
		Open:    windows(open, sources),
		Blocked: blocked,
		Windows: windows(final, sources),
	}, true
}

// windows назначает каждому интервалу минимальный шаг среди источников, которые его покрывают
func windows(set Set, sources []source) []Window {
	if len(set) == 0 {
		return nil
	}
	out := make([]Window, 0, len(set))
	for _, iv := range set {
		step := 0
		for _, src := range sources {
			if !src.iv.Overlaps(iv) {
				continue
			}
			if step == 0 || src.slotMinutes < step {
				step = src.slotMinutes
			}
		}
		if step == 0 {
			step = defaultSlotMinutes
		}
		out = append(out, Window{Interval: iv, SlotMinutes: step})
	}
	return out
}

// Candidates - все итоговые окна дней одним набором
func Candidates(days []Day) Set {
	var all []Interval
	for _, day := range days {
		for _, w := range day.Windows {
			all = append(all, w.Interval)
		}
	}
	return Normalize(all)
}
