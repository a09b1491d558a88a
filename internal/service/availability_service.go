package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
	"github.com/Freeeeeet/coach_agenda/internal/conflict"
	"github.com/Freeeeeet/coach_agenda/internal/metrics"
	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// Лимиты недельной выдачи по умолчанию
const (
	DefaultMaxSlotsPerDay = 4
	DefaultMaxTotalSlots  = 20
)

type AvailabilityService struct {
	repos      Repositories
	index      *conflict.Index
	flight     singleflight.Group
	defaultLoc *time.Location
	logger     *zap.Logger
	now        func() time.Time
}

func NewAvailabilityService(
	repos Repositories,
	index *conflict.Index,
	defaultLoc *time.Location,
	logger *zap.Logger,
) *AvailabilityService {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &AvailabilityService{
		repos:      repos,
		index:      index,
		defaultLoc: defaultLoc,
		logger:     logger,
		now:        time.Now,
	}
}

// view - всё, из чего считается доступность коуча на интервале
type view struct {
	coach  *model.Coach
	loc    *time.Location
	days   []calendar.Day
	booked calendar.Set
}

// occupancy - занятые и заблокированные интервалы
type occupancy struct {
	booked  calendar.Set
	blocked calendar.Set
}

func (s *AvailabilityService) getCoach(ctx context.Context, coachID int64) (*model.Coach, error) {
	coach, err := s.repos.Coaches.GetByID(ctx, coachID)
	if err != nil {
		return nil, fmt.Errorf("get coach: %w", err)
	}
	if coach == nil {
		return nil, &model.NotFoundError{Entity: "coach", ID: coachID}
	}
	return coach, nil
}

// serviceDuration возвращает длительность услуги или длительность занятия коуча по умолчанию
func (s *AvailabilityService) serviceDuration(ctx context.Context, coach *model.Coach, serviceID *int64) (int, error) {
	if serviceID == nil {
		return coach.LessonMinutes(), nil
	}
	svc, err := s.repos.Services.GetByID(ctx, *serviceID)
	if err != nil {
		return 0, fmt.Errorf("get service: %w", err)
	}
	if svc == nil || !svc.IsActive {
		return 0, &model.NotFoundError{Entity: "service", ID: *serviceID}
	}
	return svc.DurationMinutes, nil
}

// loadOccupancy читает booked/blocked из базы, минуя индекс
func (s *AvailabilityService) loadOccupancy(ctx context.Context, coachID int64, r calendar.Interval) (occupancy, error) {
	bookings, err := s.repos.Bookings.ListActiveInRange(ctx, coachID, r.Start, r.End)
	if err != nil {
		return occupancy{}, fmt.Errorf("list active bookings: %w", err)
	}
	blocked, err := s.repos.Exceptions.ListInRange(ctx, coachID, r.Start, r.End, model.ExceptionBlocked)
	if err != nil {
		return occupancy{}, fmt.Errorf("list blocked exceptions: %w", err)
	}

	booked := make([]calendar.Interval, 0, len(bookings))
	for _, b := range bookings {
		booked = append(booked, calendar.Interval{Start: b.StartAt.UTC(), End: b.EndAt.UTC()})
	}
	_, blockedIntervals := calendar.SplitExceptions(blocked)

	return occupancy{
		booked:  calendar.Normalize(booked),
		blocked: calendar.Normalize(blockedIntervals),
	}, nil
}

// cachedOccupancy отдаёт booked/blocked из индекса, при промахе заполняет его
// на всё окно индекса. Конкурентные промахи по одному коучу склеиваются.
func (s *AvailabilityService) cachedOccupancy(ctx context.Context, coachID int64, r calendar.Interval) (occupancy, error) {
	if s.index == nil || !s.index.Covers(r) {
		return s.loadOccupancy(ctx, coachID, r)
	}

	if snap, hit := s.index.Lookup(coachID, r); hit {
		metrics.IncIndexLookup(true)
		return occupancy{booked: snap.Booked, blocked: snap.Blocked}, nil
	}
	metrics.IncIndexLookup(false)

	type filled struct {
		window calendar.Interval
		occ    occupancy
	}

	v, err, _ := s.flight.Do(strconv.FormatInt(coachID, 10), func() (any, error) {
		gen := s.index.Generation()
		window := s.index.Window()
		// чтение не зависит от отмены первого вызова
		occ, err := s.loadOccupancy(context.WithoutCancel(ctx), coachID, window)
		if err != nil {
			return nil, err
		}
		if s.index.Fill(coachID, gen, window, occ.booked, occ.blocked) {
			metrics.SetIndexCoaches(s.index.Len())
		}
		return filled{window: window, occ: occ}, nil
	})
	if err != nil {
		return occupancy{}, err
	}

	f := v.(filled)
	if !f.window.Covers(r) {
		return s.loadOccupancy(ctx, coachID, r)
	}
	return occupancy{
		booked:  f.occ.booked.Overlapping(r),
		blocked: f.occ.blocked.Overlapping(r),
	}, nil
}

// buildView собирает развёртку расписания и занятость для [from, to).
// fromIndex=false читает только из базы.
func (s *AvailabilityService) buildView(
	ctx context.Context,
	coach *model.Coach,
	r calendar.Interval,
	extraSlotMinutes int,
	fromIndex bool,
) (*view, error) {
	rules, err := s.repos.Rules.ListByCoach(ctx, coach.ID)
	if err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}
	extras, err := s.repos.Exceptions.ListInRange(ctx, coach.ID, r.Start, r.End, model.ExceptionExtra)
	if err != nil {
		return nil, fmt.Errorf("list extra exceptions: %w", err)
	}

	var occ occupancy
	if fromIndex {
		occ, err = s.cachedOccupancy(ctx, coach.ID, r)
	} else {
		occ, err = s.loadOccupancy(ctx, coach.ID, r)
	}
	if err != nil {
		return nil, err
	}

	extraIntervals, _ := calendar.SplitExceptions(extras)
	loc := coach.Location(s.defaultLoc)

	days, err := calendar.Expand(calendar.ExpandInput{
		Rules:            rules,
		Extras:           extraIntervals,
		Blocked:          occ.blocked,
		Location:         loc,
		From:             r.Start,
		To:               r.End,
		ExtraSlotMinutes: extraSlotMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("expand availability: %w", err)
	}

	return &view{coach: coach, loc: loc, days: days, booked: occ.booked}, nil
}

func checkRange(from, to time.Time) (calendar.Interval, error) {
	if !from.Before(to) {
		return calendar.Interval{}, &model.InvalidRangeError{From: from, To: to}
	}
	return calendar.Interval{Start: from.UTC(), End: to.UTC()}, nil
}

// Resolve возвращает свободные слоты коуча на [from, to) в хронологическом порядке.
// Окна расписания за вычетом активных записей режутся на куски по slot_minutes,
// остаток короче шага отбрасывается.
func (s *AvailabilityService) Resolve(ctx context.Context, coachID int64, from, to time.Time) ([]model.Slot, error) {
	defer metrics.ObserveResolve("resolve", time.Now())

	r, err := checkRange(from, to)
	if err != nil {
		return nil, err
	}
	coach, err := s.getCoach(ctx, coachID)
	if err != nil {
		return nil, err
	}

	v, err := s.buildView(ctx, coach, r, coach.LessonMinutes(), true)
	if err != nil {
		return nil, err
	}

	slots := make([]model.Slot, 0)
	for _, day := range v.days {
		for _, w := range day.Windows {
			free := calendar.Set{w.Interval}.Subtract(v.booked)
			for _, piece := range free {
				for _, slot := range calendar.Slice(piece, w.Step()) {
					slots = append(slots, model.Slot{
						CoachID: coachID,
						StartAt: slot.Start,
						EndAt:   slot.End,
						Status:  model.SlotStatusFree,
					})
				}
			}
		}
	}

	return slots, nil
}

// Timeline - сетка слотов расписания с пометками free/booked/blocked (вид для коуча).
// Занятость важнее блокировки.
func (s *AvailabilityService) Timeline(ctx context.Context, coachID int64, from, to time.Time) ([]model.Slot, error) {
	defer metrics.ObserveResolve("timeline", time.Now())

	r, err := checkRange(from, to)
	if err != nil {
		return nil, err
	}
	coach, err := s.getCoach(ctx, coachID)
	if err != nil {
		return nil, err
	}

	v, err := s.buildView(ctx, coach, r, coach.LessonMinutes(), true)
	if err != nil {
		return nil, err
	}

	slots := make([]model.Slot, 0)
	for _, day := range v.days {
		for _, w := range day.Open {
			for _, piece := range calendar.Slice(w.Interval, w.Step()) {
				status := model.SlotStatusFree
				switch {
				case v.booked.Overlaps(piece):
					status = model.SlotStatusBooked
				case day.Blocked.Overlaps(piece):
					status = model.SlotStatusBlocked
				}
				slots = append(slots, model.Slot{
					CoachID: coachID,
					StartAt: piece.Start,
					EndAt:   piece.End,
					Status:  status,
				})
			}
		}
	}

	return slots, nil
}

// LocalSlot - свободный слот фиксированной длительности с локальным временем коуча
type LocalSlot struct {
	StartAt    time.Time `json:"start_utc"`
	EndAt      time.Time `json:"end_utc"`
	StartLocal string    `json:"start_local"`
	EndLocal   string    `json:"end_local"`
}

type DaySlots struct {
	CoachID         int64       `json:"coach_id"`
	Day             string      `json:"day"`
	Timezone        string      `json:"timezone"`
	DurationMinutes int         `json:"duration_minutes"`
	Slots           []LocalSlot `json:"slots"`
}

// daySlots - слоты длительностью duration, начинающиеся с шагом правила от начала окна.
// Кандидаты, пересекающие запись или блокировку, пропускаются.
func daySlots(day calendar.Day, booked calendar.Set, duration time.Duration, loc *time.Location) []LocalSlot {
	slots := make([]LocalSlot, 0)
	for _, w := range day.Open {
		for _, c := range calendar.Steps(w.Interval, duration, w.Step()) {
			if booked.Overlaps(c) || day.Blocked.Overlaps(c) {
				continue
			}
			slots = append(slots, LocalSlot{
				StartAt:    c.Start,
				EndAt:      c.End,
				StartLocal: c.Start.In(loc).Format(time.RFC3339),
				EndLocal:   c.End.In(loc).Format(time.RFC3339),
			})
		}
	}
	return slots
}

func localDay(t time.Time, loc *time.Location) calendar.Interval {
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return calendar.Interval{Start: start.UTC(), End: time.Date(y, m, d+1, 0, 0, 0, 0, loc).UTC()}
}

// SlotsForDay возвращает слоты на локальный день коуча. Длительность берётся из услуги,
// без услуги - длительность занятия коуча по умолчанию.
func (s *AvailabilityService) SlotsForDay(ctx context.Context, coachID int64, day time.Time, serviceID *int64) (*DaySlots, error) {
	defer metrics.ObserveResolve("day", time.Now())

	coach, err := s.getCoach(ctx, coachID)
	if err != nil {
		return nil, err
	}
	duration, err := s.serviceDuration(ctx, coach, serviceID)
	if err != nil {
		return nil, err
	}

	loc := coach.Location(s.defaultLoc)
	// day - календарная дата, её таймзона не важна
	y, m, d := day.Date()
	r := localDay(time.Date(y, m, d, 12, 0, 0, 0, loc), loc)

	v, err := s.buildView(ctx, coach, r, duration, true)
	if err != nil {
		return nil, err
	}

	out := &DaySlots{
		CoachID:         coachID,
		Day:             fmt.Sprintf("%04d-%02d-%02d", y, m, d),
		Timezone:        loc.String(),
		DurationMinutes: duration,
		Slots:           make([]LocalSlot, 0),
	}
	for _, dd := range v.days {
		out.Slots = append(out.Slots, daySlots(dd, v.booked, time.Duration(duration)*time.Minute, loc)...)
	}
	return out, nil
}

type WeekOptions struct {
	ServiceID        *int64
	IncludePastDays  bool
	OnlyNonEmptyDays bool
	MaxSlotsPerDay   int
	MaxTotalSlots    int
	// Reference - любой момент нужной недели; нулевое значение - текущая неделя
	Reference time.Time
}

// DefaultWeekOptions - параметры недельной выдачи по умолчанию
func DefaultWeekOptions() WeekOptions {
	return WeekOptions{
		OnlyNonEmptyDays: true,
		MaxSlotsPerDay:   DefaultMaxSlotsPerDay,
		MaxTotalSlots:    DefaultMaxTotalSlots,
	}
}

type WeekSlots struct {
	CoachID        int64      `json:"coach_id"`
	Timezone       string     `json:"timezone"`
	WeekStart      string     `json:"week_start"`
	WeekEnd        string     `json:"week_end"`
	StartDay       string     `json:"start_day"`
	Days           []DaySlots `json:"days"`
	TotalSlots     int        `json:"total_slots"`
	Truncated      bool       `json:"truncated"`
	MaxSlotsPerDay int        `json:"max_slots_per_day"`
	MaxTotalSlots  int        `json:"max_total_slots"`
}

// WeekSlots - слоты на ISO-неделю (понедельник..воскресенье) в таймзоне коуча
// с ограничениями на размер ответа.
func (s *AvailabilityService) WeekSlots(ctx context.Context, coachID int64, opts WeekOptions) (*WeekSlots, error) {
	defer metrics.ObserveResolve("week", time.Now())

	if opts.MaxSlotsPerDay < 1 || opts.MaxTotalSlots < 1 {
		return nil, fmt.Errorf("%w: slot limits must be positive", model.ErrInvalidRule)
	}

	coach, err := s.getCoach(ctx, coachID)
	if err != nil {
		return nil, err
	}
	duration, err := s.serviceDuration(ctx, coach, opts.ServiceID)
	if err != nil {
		return nil, err
	}

	loc := coach.Location(s.defaultLoc)
	ref := opts.Reference
	if ref.IsZero() {
		ref = s.now()
	}
	ref = ref.In(loc)
	y, m, d := ref.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	weekStart := today.AddDate(0, 0, 1-model.ISOWeekday(today))
	weekEnd := weekStart.AddDate(0, 0, 6)

	startDay := weekStart
	if !opts.IncludePastDays {
		startDay = today
	}

	r := calendar.Interval{Start: startDay.UTC(), End: weekEnd.AddDate(0, 0, 1).UTC()}
	v, err := s.buildView(ctx, coach, r, duration, true)
	if err != nil {
		return nil, err
	}

	out := &WeekSlots{
		CoachID:        coachID,
		Timezone:       loc.String(),
		WeekStart:      weekStart.Format(time.DateOnly),
		WeekEnd:        weekEnd.Format(time.DateOnly),
		StartDay:       startDay.Format(time.DateOnly),
		Days:           make([]DaySlots, 0),
		MaxSlotsPerDay: opts.MaxSlotsPerDay,
		MaxTotalSlots:  opts.MaxTotalSlots,
	}

	for _, day := range v.days {
		slots := daySlots(day, v.booked, time.Duration(duration)*time.Minute, loc)
		if len(slots) > opts.MaxSlotsPerDay {
			slots = slots[:opts.MaxSlotsPerDay]
			out.Truncated = true
		}
		if left := opts.MaxTotalSlots - out.TotalSlots; len(slots) > left {
			slots = slots[:left]
			out.Truncated = true
		}

		if len(slots) > 0 || !opts.OnlyNonEmptyDays {
			out.Days = append(out.Days, DaySlots{
				CoachID:         coachID,
				Day:             day.Date.Format(time.DateOnly),
				Timezone:        loc.String(),
				DurationMinutes: duration,
				Slots:           slots,
			})
		}
		out.TotalSlots += len(slots)
		if out.TotalSlots >= opts.MaxTotalSlots {
			out.Truncated = true
			break
		}
	}

	return out, nil
}

// admissible проверяет по базе (не по индексу), что [start, end) целиком лежит
// в одном непрерывном свободном интервале расписания.
func (s *AvailabilityService) admissible(ctx context.Context, coach *model.Coach, r calendar.Interval) (bool, error) {
	v, err := s.buildView(ctx, coach, r, coach.LessonMinutes(), false)
	if err != nil {
		return false, err
	}
	free := calendar.Candidates(v.days).Subtract(v.booked)
	return free.Contains(r), nil
}
