// Package conflict - кэш занятых (booked) и заблокированных (blocked) интервалов коучей.
// Индекс не авторитетен: запись всегда перепроверяется по базе.
package conflict

import (
	"sync"
	"time"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
)

// History - сколько прошлого держим в окне индекса
const History = 24 * time.Hour

// Snapshot - содержимое индекса для запрошенного интервала
type Snapshot struct {
	Booked  calendar.Set
	Blocked calendar.Set
}

type entry struct {
	coverage calendar.Set // интервалы, для которых кэш полный
	booked   calendar.Set
	blocked  calendar.Set
}

// Index хранит по каждому коучу отсортированные непересекающиеся наборы интервалов
// в пределах окна [now-History, now+lookahead).
type Index struct {
	mu        sync.RWMutex
	lookahead time.Duration
	now       func() time.Time
	entries   map[int64]*entry

	// gen растёт при каждой инвалидации; invalidated[coach] - поколение последней
	gen         uint64
	invalidated map[int64]uint64
}

func New(lookahead time.Duration) *Index {
	return &Index{
		lookahead:   lookahead,
		now:         time.Now,
		entries:     make(map[int64]*entry),
		invalidated: make(map[int64]uint64),
	}
}

// Window - текущее окно индекса
func (x *Index) Window() calendar.Interval {
	now := x.now().UTC()
	return calendar.Interval{Start: now.Add(-History), End: now.Add(x.lookahead)}
}

// Covers - интервал r целиком лежит в окне индекса
func (x *Index) Covers(r calendar.Interval) bool {
	return x.Window().Covers(r)
}

// Generation возвращает поколение, которое нужно передать в Fill после чтения из базы
func (x *Index) Generation() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.gen
}

// Lookup отдаёт booked/blocked интервалы, пересекающие r.
// Попадание только если r целиком покрыт заполненными диапазонами.
func (x *Index) Lookup(coachID int64, r calendar.Interval) (Snapshot, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.entries[coachID]
	if !ok || !e.coverage.Contains(r) {
		return Snapshot{}, false
	}
	return Snapshot{
		Booked:  e.booked.Overlapping(r),
		Blocked: e.blocked.Overlapping(r),
	}, true
}

// Fill заменяет содержимое индекса внутри r (обрезанного окном) данными из базы.
// gen - значение Generation до чтения; если коуча инвалидировали позже, данные устарели
// и Fill ничего не делает. Возвращает true, если данные приняты.
func (x *Index) Fill(coachID int64, gen uint64, r calendar.Interval, booked, blocked []calendar.Interval) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.invalidated[coachID] > gen {
		return false
	}

	clipped := calendar.Set{r}.Clip(x.Window())
	if len(clipped) == 0 {
		return false
	}

	e, ok := x.entries[coachID]
	if !ok {
		e = &entry{}
		x.entries[coachID] = e
	}

	e.coverage = e.coverage.Union(clipped)
	e.booked = e.booked.Subtract(clipped).Union(calendar.Normalize(booked).Intersect(clipped))
	e.blocked = e.blocked.Subtract(clipped).Union(calendar.Normalize(blocked).Intersect(clipped))
	return true
}

// Invalidate сбрасывает покрытие коуча в пределах r
func (x *Index) Invalidate(coachID int64, r calendar.Interval) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.gen++
	x.invalidated[coachID] = x.gen

	e, ok := x.entries[coachID]
	if !ok {
		return
	}
	cut := calendar.Normalize([]calendar.Interval{r})
	e.coverage = e.coverage.Subtract(cut)
	e.booked = e.booked.Subtract(cut)
	e.blocked = e.blocked.Subtract(cut)
	if len(e.coverage) == 0 {
		delete(x.entries, coachID)
	}
}

// InvalidateCoach удаляет все данные коуча (например, после замены правил)
func (x *Index) InvalidateCoach(coachID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.gen++
	x.invalidated[coachID] = x.gen
	delete(x.entries, coachID)
}

// Sweep обрезает все записи по текущему окну и удаляет опустевшие.
// Возвращает количество удалённых коучей.
func (x *Index) Sweep() int {
	window := x.Window()

	x.mu.Lock()
	defer x.mu.Unlock()

	removed := 0
	for coachID, e := range x.entries {
		e.coverage = e.coverage.Clip(window)
		if len(e.coverage) == 0 {
			delete(x.entries, coachID)
			removed++
			continue
		}
		e.booked = e.booked.Clip(window)
		e.blocked = e.blocked.Clip(window)
	}
	return removed
}

// Len - количество коучей в индексе
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
