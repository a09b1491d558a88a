// Package calendar содержит чистую интервальную арифметику и развёртку
// недельных правил доступности в конкретные интервалы. Пакет не делает I/O.
package calendar

import (
	"sort"
	"time"
)

// Interval - полуоткрытый интервал [Start, End)
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid - интервал непустой
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps - интервалы пересекаются (касание концами не считается)
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Covers - o целиком лежит внутри i
func (i Interval) Covers(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// UTC приводит границы к UTC
func (i Interval) UTC() Interval {
	return Interval{Start: i.Start.UTC(), End: i.End.UTC()}
}

// Set - отсортированный набор непересекающихся и не смежных интервалов.
// Значения Set получаются только через Normalize и операции над Set.
type Set []Interval

// Normalize сортирует интервалы, выкидывает пустые и склеивает пересекающиеся и смежные
func Normalize(in []Interval) Set {
	items := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.Valid() {
			items = append(items, iv)
		}
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(a, b int) bool {
		if items[a].Start.Equal(items[b].Start) {
			return items[a].End.Before(items[b].End)
		}
		return items[a].Start.Before(items[b].Start)
	})

	out := Set{items[0]}
	for _, iv := range items[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Union объединяет два набора
func (s Set) Union(o Set) Set {
	all := make([]Interval, 0, len(s)+len(o))
	all = append(all, s...)
	all = append(all, o...)
	return Normalize(all)
}

// Subtract вычитает из s все интервалы o
func (s Set) Subtract(o Set) Set {
	if len(s) == 0 {
		return nil
	}
	if len(o) == 0 {
		return append(Set(nil), s...)
	}

	out := make(Set, 0, len(s))
	j := 0
	for _, iv := range s {
		cur := iv.Start
		for j < len(o) && !o[j].End.After(cur) {
			j++
		}
		for k := j; k < len(o) && o[k].Start.Before(iv.End); k++ {
			if o[k].Start.After(cur) {
				out = append(out, Interval{Start: cur, End: o[k].Start})
			}
			if o[k].End.After(cur) {
				cur = o[k].End
			}
			if !cur.Before(iv.End) {
				break
			}
		}
		if cur.Before(iv.End) {
			out = append(out, Interval{Start: cur, End: iv.End})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Intersect возвращает пересечение наборов
func (s Set) Intersect(o Set) Set {
	var out Set
	i, j := 0, 0
	for i < len(s) && j < len(o) {
		start := later(s[i].Start, o[j].Start)
		end := earlier(s[i].End, o[j].End)
		if start.Before(end) {
			out = append(out, Interval{Start: start, End: end})
		}
		if s[i].End.Before(o[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}

// Clip обрезает набор по интервалу r
func (s Set) Clip(r Interval) Set {
	if !r.Valid() {
		return nil
	}
	return s.Intersect(Set{r})
}

// Overlapping возвращает интервалы набора, пересекающиеся с r. O(log n + k).
func (s Set) Overlapping(r Interval) Set {
	if !r.Valid() {
		return nil
	}
	i := sort.Search(len(s), func(i int) bool { return s[i].End.After(r.Start) })
	var out Set
	for ; i < len(s) && s[i].Start.Before(r.End); i++ {
		out = append(out, s[i])
	}
	return out
}

// Overlaps - хотя бы один интервал набора пересекается с r. O(log n).
func (s Set) Overlaps(r Interval) bool {
	if !r.Valid() {
		return false
	}
	i := sort.Search(len(s), func(i int) bool { return s[i].End.After(r.Start) })
	return i < len(s) && s[i].Start.Before(r.End)
}

// Contains - r целиком лежит внутри одного интервала набора. O(log n).
func (s Set) Contains(r Interval) bool {
	if !r.Valid() {
		return false
	}
	i := sort.Search(len(s), func(i int) bool { return s[i].End.After(r.Start) })
	return i < len(s) && s[i].Covers(r)
}

// Total - суммарная длительность набора
func (s Set) Total() time.Duration {
	var d time.Duration
	for _, iv := range s {
		d += iv.Duration()
	}
	return d
}

// Slice режет интервал на куски по step. Остаток короче step отбрасывается.
func Slice(iv Interval, step time.Duration) []Interval {
	if step <= 0 || !iv.Valid() {
		return nil
	}
	var out []Interval
	for cur := iv.Start; !cur.Add(step).After(iv.End); cur = cur.Add(step) {
		out = append(out, Interval{Start: cur, End: cur.Add(step)})
	}
	return out
}

// Steps возвращает интервалы длины length, начинающиеся каждые step внутри iv
func Steps(iv Interval, length, step time.Duration) []Interval {
	if length <= 0 || step <= 0 || !iv.Valid() {
		return nil
	}
	var out []Interval
	for cur := iv.Start; !cur.Add(length).After(iv.End); cur = cur.Add(step) {
		out = append(out, Interval{Start: cur, End: cur.Add(length)})
	}
	return out
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
