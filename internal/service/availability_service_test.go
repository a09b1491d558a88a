package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
	"github.com/Freeeeeet/coach_agenda/internal/model"
)

func resolveMonday(t *testing.T, f *fixture) []model.Slot {
	t.Helper()
	slots, err := f.availability.Resolve(context.Background(), f.coach.ID, monday(0, 0), monday(24, 0))
	require.NoError(t, err)
	return slots
}

func withCoach(coachID int64, slots ...model.Slot) []model.Slot {
	for i := range slots {
		slots[i].CoachID = coachID
	}
	return slots
}

func TestResolveMondayRule(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)

	assert.Equal(t, withCoach(f.coach.ID,
		utcSlot(monday(9, 0), monday(10, 0)),
		utcSlot(monday(10, 0), monday(11, 0)),
		utcSlot(monday(11, 0), monday(12, 0)),
	), resolveMonday(t, f))
}

func TestResolveSkipsBlockedException(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	f.block(t, monday(10, 0), monday(11, 0))

	assert.Equal(t, withCoach(f.coach.ID,
		utcSlot(monday(9, 0), monday(10, 0)),
		utcSlot(monday(11, 0), monday(12, 0)),
	), resolveMonday(t, f))
}

func TestResolveIgnoresCancelledBookings(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	ctx := context.Background()

	b := f.book(t, monday(9, 30), monday(10, 30))
	_, err := f.bookings.Cancel(ctx, b.ID, nil, strPtr("болезнь"))
	require.NoError(t, err)

	assert.Len(t, resolveMonday(t, f), 3)

	confirmed := f.book(t, monday(9, 30), monday(10, 30))
	slots := resolveMonday(t, f)
	assert.Equal(t, withCoach(f.coach.ID, utcSlot(monday(10, 30), monday(11, 30))), slots)
	for _, s := range slots {
		assert.False(t, s.StartAt.Before(confirmed.EndAt) && confirmed.StartAt.Before(s.EndAt))
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	f.block(t, monday(11, 0), monday(11, 30))
	f.book(t, monday(9, 0), monday(10, 0))

	first := resolveMonday(t, f)
	second := resolveMonday(t, f)
	assert.Equal(t, first, second)
}

func TestResolveValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.availability.Resolve(ctx, f.coach.ID, monday(10, 0), monday(9, 0))
	var rangeErr *model.InvalidRangeError
	assert.ErrorAs(t, err, &rangeErr)

	_, err = f.availability.Resolve(ctx, 999, monday(0, 0), monday(24, 0))
	assert.True(t, model.IsNotFound(err))
}

func TestResolveUsesIndexAndSeesInvalidation(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	ctx := context.Background()
	from, to := nextMonday(0, 0), nextMonday(24, 0)

	slots, err := f.availability.Resolve(ctx, f.coach.ID, from, to)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
	assert.Equal(t, 1, f.index.Len())

	_, hit := f.index.Lookup(f.coach.ID, calendar.Interval{Start: from.UTC(), End: to.UTC()})
	assert.True(t, hit)

	f.book(t, nextMonday(10, 0), nextMonday(11, 0))
	slots, err = f.availability.Resolve(ctx, f.coach.ID, from, to)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestStaleIndexNeverAdmitsOverlap(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	ctx := context.Background()

	f.book(t, nextMonday(9, 0), nextMonday(10, 0))

	// индекс отстал: занятость не видна
	require.True(t, f.index.Fill(f.coach.ID, f.index.Generation(), f.index.Window(), nil, nil))
	slots, err := f.availability.Resolve(ctx, f.coach.ID, nextMonday(0, 0), nextMonday(24, 0))
	require.NoError(t, err)
	assert.Len(t, slots, 3)

	_, err = f.bookings.RequestBooking(ctx, BookingRequest{
		CoachID:  f.coach.ID,
		ClientID: f.client.ID,
		Start:    nextMonday(9, 0),
		End:      nextMonday(10, 0),
	})
	var unavailable *model.SlotUnavailableError
	assert.ErrorAs(t, err, &unavailable)
	assert.Len(t, f.store.Bookings(), 1)
}

func TestTimelineMarksStatuses(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	f.block(t, monday(11, 0), monday(12, 0))
	f.book(t, monday(9, 0), monday(10, 0))

	slots, err := f.availability.Timeline(context.Background(), f.coach.ID, monday(0, 0), monday(24, 0))
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, model.SlotStatusBooked, slots[0].Status)
	assert.Equal(t, model.SlotStatusFree, slots[1].Status)
	assert.Equal(t, model.SlotStatusBlocked, slots[2].Status)
}

func TestSlotsForDayUsesServiceDuration(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	svc := f.store.AddService(model.Service{Name: "Разбор", DurationMinutes: 90, IsActive: true})
	f.book(t, monday(11, 0), monday(12, 0))

	day, err := f.availability.SlotsForDay(context.Background(), f.coach.ID, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), &svc.ID)
	require.NoError(t, err)

	assert.Equal(t, "2024-06-03", day.Day)
	assert.Equal(t, "Europe/Madrid", day.Timezone)
	assert.Equal(t, 90, day.DurationMinutes)
	// 09:00-10:30 свободен, 10:00-11:30 задевает запись 11:00
	require.Len(t, day.Slots, 1)
	assert.Equal(t, monday(9, 0).UTC(), day.Slots[0].StartAt)
	assert.Equal(t, monday(10, 30).UTC(), day.Slots[0].EndAt)
	assert.Equal(t, "2024-06-03T09:00:00+02:00", day.Slots[0].StartLocal)
}

func TestSlotsForDayRejectsInactiveService(t *testing.T) {
	f := newFixture(t)
	svc := f.store.AddService(model.Service{Name: "Архив", DurationMinutes: 30, IsActive: false})

	_, err := f.availability.SlotsForDay(context.Background(), f.coach.ID, monday(0, 0), &svc.ID)
	assert.True(t, model.IsNotFound(err))
}

func TestWeekSlotsLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.schedule.SetRules(ctx, f.coach.ID, []RuleInput{
		{Weekday: 1, StartTime: model.Clock(9, 0), EndTime: model.Clock(17, 0), SlotMinutes: 60},
		{Weekday: 3, StartTime: model.Clock(9, 0), EndTime: model.Clock(12, 0), SlotMinutes: 60},
	}, true)
	require.NoError(t, err)

	opts := DefaultWeekOptions()
	opts.IncludePastDays = true
	opts.Reference = monday(15, 0)
	opts.MaxSlotsPerDay = 2
	opts.MaxTotalSlots = 3

	week, err := f.availability.WeekSlots(ctx, f.coach.ID, opts)
	require.NoError(t, err)

	assert.Equal(t, "2024-06-03", week.WeekStart)
	assert.Equal(t, "2024-06-09", week.WeekEnd)
	assert.True(t, week.Truncated)
	assert.Equal(t, 3, week.TotalSlots)
	require.Len(t, week.Days, 2)
	assert.Equal(t, "2024-06-03", week.Days[0].Day)
	assert.Len(t, week.Days[0].Slots, 2)
	assert.Equal(t, "2024-06-05", week.Days[1].Day)
	assert.Len(t, week.Days[1].Slots, 1)
}

func TestWeekSlotsSkipsPastDays(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)

	opts := DefaultWeekOptions()
	opts.Reference = time.Date(2024, 6, 4, 10, 0, 0, 0, madrid)

	week, err := f.availability.WeekSlots(context.Background(), f.coach.ID, opts)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-04", week.StartDay)
	assert.Empty(t, week.Days)
	assert.False(t, week.Truncated)
}

func TestWeekSlotsRejectsBadLimits(t *testing.T) {
	f := newFixture(t)
	opts := DefaultWeekOptions()
	opts.MaxTotalSlots = 0

	_, err := f.availability.WeekSlots(context.Background(), f.coach.ID, opts)
	assert.ErrorIs(t, err, model.ErrInvalidRule)
}
