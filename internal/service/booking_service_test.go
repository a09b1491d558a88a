package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Freeeeeet/coach_agenda/internal/events"
	"github.com/Freeeeeet/coach_agenda/internal/model"
)

func TestRequestBookingAdmitsFreeInterval(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)

	b, err := f.bookings.RequestBooking(context.Background(), BookingRequest{
		CoachID:     f.coach.ID,
		ClientID:    f.client.ID,
		Start:       monday(10, 0),
		RequestedBy: int64Ptr(42),
		Notes:       strPtr("первое занятие"),
	})
	require.NoError(t, err)

	assert.NotZero(t, b.ID)
	assert.Equal(t, model.BookingStatusConfirmed, b.Status)
	assert.Equal(t, monday(10, 0).UTC(), b.StartAt)
	assert.Equal(t, monday(11, 0).UTC(), b.EndAt, "end defaults to coach lesson length")
	assert.Equal(t, int64(42), *b.CreatedByUserID)

	assert.Len(t, f.store.Bookings(), 1)
	assert.Equal(t, []string{events.BookingCreated}, f.publisher.types())
	// правило + запись
	assert.Equal(t, 2, f.bus.count())
	f.notifier.AssertCalled(t, "NotifyBooking", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestBookingCrossesRuleWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.schedule.SetRules(ctx, f.coach.ID, []RuleInput{
		{Weekday: 1, StartTime: model.Clock(9, 0), EndTime: model.Clock(10, 0), SlotMinutes: 60},
		{Weekday: 1, StartTime: model.Clock(10, 0), EndTime: model.Clock(11, 0), SlotMinutes: 30},
	}, true)
	require.NoError(t, err)

	_, err = f.bookings.RequestBooking(ctx, BookingRequest{
		CoachID:  f.coach.ID,
		ClientID: f.client.ID,
		Start:    monday(9, 15),
		End:      monday(10, 45),
	})
	assert.NoError(t, err)
}

func TestRequestBookingUsesServiceDuration(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	svc := f.store.AddService(model.Service{Name: "Сессия", DurationMinutes: 30, IsActive: true})

	b, err := f.bookings.RequestBooking(context.Background(), BookingRequest{
		CoachID:   f.coach.ID,
		ClientID:  f.client.ID,
		ServiceID: &svc.ID,
		Start:     monday(9, 0),
		Status:    model.BookingStatusTentative,
	})
	require.NoError(t, err)
	assert.Equal(t, monday(9, 30).UTC(), b.EndAt)
	assert.Equal(t, model.BookingStatusTentative, b.Status)
}

func TestRequestBookingRejections(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	f.block(t, monday(11, 0), monday(12, 0))
	f.book(t, monday(9, 0), monday(10, 0))
	inactive := f.store.AddService(model.Service{Name: "Архив", DurationMinutes: 60})

	tests := []struct {
		name  string
		req   BookingRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "inverted range",
			req:  BookingRequest{CoachID: f.coach.ID, ClientID: f.client.ID, Start: monday(10, 0), End: monday(9, 0)},
			check: func(t *testing.T, err error) {
				var target *model.InvalidRangeError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name: "outside rules",
			req:  BookingRequest{CoachID: f.coach.ID, ClientID: f.client.ID, Start: monday(12, 0), End: monday(13, 0)},
			check: func(t *testing.T, err error) {
				var target *model.SlotUnavailableError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name: "blocked",
			req:  BookingRequest{CoachID: f.coach.ID, ClientID: f.client.ID, Start: monday(10, 30), End: monday(11, 30)},
			check: func(t *testing.T, err error) {
				var target *model.SlotUnavailableError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name: "already booked",
			req:  BookingRequest{CoachID: f.coach.ID, ClientID: f.client.ID, Start: monday(9, 30), End: monday(10, 30)},
			check: func(t *testing.T, err error) {
				var target *model.SlotUnavailableError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name: "unknown coach",
			req:  BookingRequest{CoachID: 999, ClientID: f.client.ID, Start: monday(10, 0), End: monday(11, 0)},
			check: func(t *testing.T, err error) {
				assert.True(t, model.IsNotFound(err))
			},
		},
		{
			name: "unknown client",
			req:  BookingRequest{CoachID: f.coach.ID, ClientID: 999, Start: monday(10, 0), End: monday(11, 0)},
			check: func(t *testing.T, err error) {
				assert.True(t, model.IsNotFound(err))
			},
		},
		{
			name: "inactive service",
			req:  BookingRequest{CoachID: f.coach.ID, ClientID: f.client.ID, ServiceID: &inactive.ID, Start: monday(10, 0)},
			check: func(t *testing.T, err error) {
				assert.True(t, model.IsNotFound(err))
			},
		},
		{
			name: "terminal initial status",
			req:  BookingRequest{CoachID: f.coach.ID, ClientID: f.client.ID, Start: monday(10, 0), End: monday(11, 0), Status: model.BookingStatusCompleted},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, model.ErrInvalidTransition)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := f.bookings.RequestBooking(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, b)
			tt.check(t, err)
		})
	}

	assert.Len(t, f.store.Bookings(), 1)
}

func TestRequestBookingConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)

	const n = 8
	var arrived atomic.Int32
	gate := make(chan struct{})
	// все запросы проходят проверку доступности до первой вставки
	f.store.AfterBookingRead = func() {
		if arrived.Add(1) == n {
			close(gate)
		}
		<-gate
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.bookings.RequestBooking(context.Background(), BookingRequest{
				CoachID:  f.coach.ID,
				ClientID: f.client.ID,
				Start:    monday(9, 0),
				End:      monday(10, 0),
			})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case model.IsConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, f.store.Bookings(), 1)
}

func TestRequestBookingFailedCommitLeavesNoRows(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	commitErr := errors.New("connection reset")
	f.store.BeforeCommit = func(context.Context) error { return commitErr }

	_, err := f.bookings.RequestBooking(context.Background(), BookingRequest{
		CoachID: f.coach.ID, ClientID: f.client.ID, Start: monday(9, 0), End: monday(10, 0),
	})
	assert.ErrorIs(t, err, commitErr)
	assert.Empty(t, f.store.Bookings())
	assert.Empty(t, f.publisher.types())

	f.store.BeforeCommit = nil
	f.book(t, monday(9, 0), monday(10, 0))
}

func TestRequestBookingCancelledContextLeavesNoRows(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.store.AfterBookingRead = cancel

	_, err := f.bookings.RequestBooking(ctx, BookingRequest{
		CoachID: f.coach.ID, ClientID: f.client.ID, Start: monday(9, 0), End: monday(10, 0),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.Bookings())
}

func TestRequestBookingSurvivesNotifierFailure(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	failing := &mockNotifier{}
	failing.On("NotifyBooking", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("telegram down")).Once()
	f.bookings.notifier = failing

	f.book(t, monday(9, 0), monday(10, 0))
	failing.AssertExpectations(t)
}

func TestBookingLifecycle(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	ctx := context.Background()

	b, err := f.bookings.RequestBooking(ctx, BookingRequest{
		CoachID: f.coach.ID, ClientID: f.client.ID, Start: monday(9, 0), End: monday(10, 0),
		Status: model.BookingStatusTentative,
	})
	require.NoError(t, err)

	_, err = f.bookings.Complete(ctx, b.ID, nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	confirmed, err := f.bookings.Confirm(ctx, b.ID, int64Ptr(1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, confirmed.Status)

	completed, err := f.bookings.Complete(ctx, b.ID, int64Ptr(1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCompleted, completed.Status)

	_, err = f.bookings.Cancel(ctx, b.ID, nil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	assert.Equal(t, []string{events.BookingCreated, events.BookingConfirmed, events.BookingCompleted}, f.publisher.types())

	// завершённое занятие время не занимает
	slots := resolveMonday(t, f)
	assert.Len(t, slots, 3)
}

func TestCancelRecordsAuditAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	ctx := context.Background()
	b := f.book(t, monday(9, 0), monday(10, 0))

	cancelled, err := f.bookings.Cancel(ctx, b.ID, int64Ptr(7), strPtr("перенос"))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledByUserID)
	assert.Equal(t, int64(7), *cancelled.CancelledByUserID)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "перенос", *cancelled.CancelReason)

	again, err := f.bookings.Cancel(ctx, b.ID, int64Ptr(8), strPtr("другое"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), *again.CancelledByUserID)
	assert.Equal(t, "перенос", *again.CancelReason)

	assert.Equal(t, []string{events.BookingCreated, events.BookingCancelled}, f.publisher.types())

	// время освободилось
	f.book(t, monday(9, 0), monday(10, 0))
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	ctx := context.Background()
	b := f.book(t, monday(9, 0), monday(10, 0))

	noShow, err := f.bookings.MarkNoShow(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusNoShow, noShow.Status)

	_, err = f.bookings.Confirm(ctx, b.ID, nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestTransitionUnknownBooking(t *testing.T) {
	f := newFixture(t)
	_, err := f.bookings.Confirm(context.Background(), 12345, nil)
	assert.True(t, model.IsNotFound(err))

	_, err = f.bookings.GetBooking(context.Background(), 12345)
	assert.True(t, model.IsNotFound(err))
}

func TestListBookings(t *testing.T) {
	f := newFixture(t)
	f.mondayRule(t)
	ctx := context.Background()
	first := f.book(t, monday(9, 0), monday(10, 0))
	second := f.book(t, monday(10, 0), monday(11, 0))
	_, err := f.bookings.Cancel(ctx, first.ID, nil, nil)
	require.NoError(t, err)

	active, err := f.bookings.ListCoachBookings(ctx, f.coach.ID, monday(0, 0), monday(24, 0), false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	all, err := f.bookings.ListClientBookings(ctx, f.client.ID, monday(0, 0), monday(24, 0), true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.bookings.ListClientBookings(ctx, 999, monday(0, 0), monday(24, 0), true)
	assert.True(t, model.IsNotFound(err))

	_, err = f.bookings.ListCoachBookings(ctx, f.coach.ID, monday(24, 0), monday(0, 0), true)
	var rangeErr *model.InvalidRangeError
	assert.ErrorAs(t, err, &rangeErr)
}
